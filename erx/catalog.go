package erx

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
	"gopkg.in/yaml.v3"
)

// Catalog is the dataset the demo capabilities answer from: patient
// medication profiles, interaction pairs, formulary rows, pharmacies,
// and prices. It loads from YAML files and can be replaced at runtime.
type Catalog struct {
	Patients     map[string]PatientProfile `yaml:"patients" json:"patients"`
	Interactions []InteractionRule         `yaml:"interactions,omitempty" json:"interactions,omitempty"`
	Formulary    []FormularyRule           `yaml:"formulary,omitempty" json:"formulary,omitempty"`
	Pharmacies   []Pharmacy                `yaml:"pharmacies,omitempty" json:"pharmacies,omitempty"`
	Prices       []PriceRule               `yaml:"prices,omitempty" json:"prices,omitempty"`
}

// PatientProfile is one patient's slice of the catalog.
type PatientProfile struct {
	// PlanID names the insurance plan used for formulary checks.
	PlanID string `yaml:"plan_id" json:"plan_id"`

	// Medications are the prescriptions on file.
	Medications []Medication `yaml:"medications" json:"medications"`
}

// InteractionRule flags a pair of medications. Matching is symmetric.
type InteractionRule struct {
	MedicationA string `yaml:"medication_a" json:"medication_a"`
	MedicationB string `yaml:"medication_b" json:"medication_b"`
	Severity    string `yaml:"severity" json:"severity"`
	Note        string `yaml:"note,omitempty" json:"note,omitempty"`
}

// FormularyRule is one plan's coverage answer for a medication.
type FormularyRule struct {
	PlanID            string `yaml:"plan_id" json:"plan_id"`
	Medication        string `yaml:"medication" json:"medication"`
	Covered           bool   `yaml:"covered" json:"covered"`
	PriorAuthRequired bool   `yaml:"prior_auth_required" json:"prior_auth_required"`
	CopayCents        int    `yaml:"copay_cents" json:"copay_cents"`
}

// PriceRule is the cash price of a medication at one pharmacy.
type PriceRule struct {
	PharmacyID string `yaml:"pharmacy_id" json:"pharmacy_id"`
	Medication string `yaml:"medication" json:"medication"`
	PriceCents int    `yaml:"price_cents" json:"price_cents"`
}

// CatalogStats summarizes a loaded catalog for logging.
type CatalogStats struct {
	Patients     int
	Medications  int
	Interactions int
	Pharmacies   int
}

// CatalogStore holds the active catalog behind a read lock so the
// watcher can swap in a reloaded one while capabilities read.
type CatalogStore struct {
	mu      sync.RWMutex
	catalog Catalog
}

// NewCatalogStore returns a store seeded with the given catalog.
func NewCatalogStore(catalog Catalog) *CatalogStore {
	return &CatalogStore{catalog: catalog}
}

// Replace swaps the active catalog. Readers holding slices from the
// previous catalog keep seeing the old data.
func (s *CatalogStore) Replace(catalog Catalog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog = catalog
}

// view returns the active catalog. Callers must treat it as read-only.
func (s *CatalogStore) view() Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog
}

// Stats counts the active catalog's contents.
func (s *CatalogStore) Stats() CatalogStats {
	c := s.view()
	stats := CatalogStats{
		Patients:     len(c.Patients),
		Interactions: len(c.Interactions),
		Pharmacies:   len(c.Pharmacies),
	}
	for _, profile := range c.Patients {
		stats.Medications += len(profile.Medications)
	}
	return stats
}

// LoadCatalogDir reads every YAML file under dir (recursively) and
// merges them into one catalog. Later files win per patient id; rule
// lists append in file order.
func LoadCatalogDir(dir string) (Catalog, error) {
	merged := Catalog{Patients: make(map[string]PatientProfile)}

	pattern := fmt.Sprintf("%s/**/*.{yaml,yml}", strings.TrimRight(dir, "/"))
	matches, err := doublestar.FilepathGlob(pattern)
	if err != nil {
		return Catalog{}, fmt.Errorf("glob catalog dir %q: %w", dir, err)
	}
	if len(matches) == 0 {
		return Catalog{}, fmt.Errorf("no catalog files under %s", dir)
	}
	sort.Strings(matches)

	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			return Catalog{}, fmt.Errorf("read catalog file %s: %w", path, err)
		}

		var part Catalog
		if err := yaml.Unmarshal(data, &part); err != nil {
			return Catalog{}, fmt.Errorf("parse catalog file %s: %w", path, err)
		}

		for id, profile := range part.Patients {
			merged.Patients[id] = profile
		}
		merged.Interactions = append(merged.Interactions, part.Interactions...)
		merged.Formulary = append(merged.Formulary, part.Formulary...)
		merged.Pharmacies = append(merged.Pharmacies, part.Pharmacies...)
		merged.Prices = append(merged.Prices, part.Prices...)
	}

	if err := merged.Validate(); err != nil {
		return Catalog{}, err
	}
	return merged, nil
}

// Validate rejects catalogs with unusable rows.
func (c Catalog) Validate() error {
	for id, profile := range c.Patients {
		if id == "" {
			return fmt.Errorf("catalog: patient with empty id")
		}
		for i, med := range profile.Medications {
			if med.Name == "" {
				return fmt.Errorf("catalog: patient %s medication %d has no name", id, i)
			}
		}
	}
	for i, rule := range c.Interactions {
		if rule.MedicationA == "" || rule.MedicationB == "" {
			return fmt.Errorf("catalog: interaction %d missing medication names", i)
		}
	}
	for i, ph := range c.Pharmacies {
		if ph.ID == "" {
			return fmt.Errorf("catalog: pharmacy %d has no id", i)
		}
	}
	return nil
}

// normalizeTerm lowercases and trims a name for matching.
func normalizeTerm(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// medicationMatches reports whether a free-text query names the
// medication, by name or alias, in either containment direction so
// "blood pressure medication" matches a "blood pressure" alias.
func medicationMatches(med Medication, query string) bool {
	q := normalizeTerm(query)
	if q == "" {
		return true
	}

	terms := make([]string, 0, len(med.Aliases)+1)
	terms = append(terms, med.Name)
	terms = append(terms, med.Aliases...)

	for _, term := range terms {
		t := normalizeTerm(term)
		if t == "" {
			continue
		}
		if strings.Contains(t, q) || strings.Contains(q, t) {
			return true
		}
	}
	return false
}

// sameMedication compares medication names ignoring case and padding.
func sameMedication(a, b string) bool {
	return normalizeTerm(a) == normalizeTerm(b)
}
