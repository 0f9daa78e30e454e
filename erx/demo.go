package erx

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/c360studio/rxpilot/escalation"
)

// fallbackPriceCents is quoted when a pharmacy has no price row for a
// medication.
const fallbackPriceCents = 1250

// DemoDirectory answers medication lookups from the catalog.
type DemoDirectory struct {
	store *CatalogStore
}

// NewDemoDirectory returns a directory backed by the catalog store.
func NewDemoDirectory(store *CatalogStore) *DemoDirectory {
	return &DemoDirectory{store: store}
}

// FindForPatient returns the patient's medications matching the query.
// An empty query returns the whole profile.
func (d *DemoDirectory) FindForPatient(ctx context.Context, patientID, query string) ([]Medication, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	profile, ok := d.store.view().Patients[patientID]
	if !ok {
		return nil, fmt.Errorf("patient %s: %w", patientID, ErrNotFound)
	}

	var matches []Medication
	for _, med := range profile.Medications {
		if medicationMatches(med, query) {
			matches = append(matches, med)
		}
	}
	return matches, nil
}

// VerifyMedication checks a resolved name and dosage against the
// prescription on file.
func (d *DemoDirectory) VerifyMedication(ctx context.Context, patientID, name, dosage string) (VerifiedMedication, error) {
	if err := ctx.Err(); err != nil {
		return VerifiedMedication{}, err
	}

	profile, ok := d.store.view().Patients[patientID]
	if !ok {
		return VerifiedMedication{}, fmt.Errorf("patient %s: %w", patientID, ErrNotFound)
	}

	for _, med := range profile.Medications {
		if !sameMedication(med.Name, name) {
			continue
		}
		return VerifiedMedication{
			Name:        med.Name,
			Dosage:      med.Dosage,
			RxCUI:       med.RxCUI,
			DosageKnown: sameDosage(med.Dosage, dosage),
		}, nil
	}
	return VerifiedMedication{}, fmt.Errorf("medication %s for patient %s: %w", name, patientID, ErrNotFound)
}

// sameDosage compares strengths ignoring case and internal spacing, so
// "500mg" and "500 MG" agree.
func sameDosage(a, b string) bool {
	collapse := func(s string) string {
		return strings.ReplaceAll(normalizeTerm(s), " ", "")
	}
	return collapse(a) != "" && collapse(a) == collapse(b)
}

// DemoInteractions reports interaction rules between the requested
// medication and the rest of the patient's profile.
type DemoInteractions struct {
	store *CatalogStore
}

// NewDemoInteractions returns an interaction source backed by the
// catalog store.
func NewDemoInteractions(store *CatalogStore) *DemoInteractions {
	return &DemoInteractions{store: store}
}

// Lookup returns signals for catalog rules that pair the medication
// with another medication on the patient's profile. Rules with
// unrecognized severities are skipped.
func (d *DemoInteractions) Lookup(ctx context.Context, patientID, medication string) ([]escalation.InteractionSignal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	catalog := d.store.view()
	profile, ok := catalog.Patients[patientID]
	if !ok {
		return nil, fmt.Errorf("patient %s: %w", patientID, ErrNotFound)
	}

	onProfile := make(map[string]bool, len(profile.Medications))
	for _, med := range profile.Medications {
		onProfile[normalizeTerm(med.Name)] = true
	}

	var signals []escalation.InteractionSignal
	for _, rule := range catalog.Interactions {
		var other string
		switch {
		case sameMedication(rule.MedicationA, medication):
			other = rule.MedicationB
		case sameMedication(rule.MedicationB, medication):
			other = rule.MedicationA
		default:
			continue
		}
		if !onProfile[normalizeTerm(other)] {
			continue
		}

		severity, err := escalation.ParseSeverity(rule.Severity)
		if err != nil {
			continue
		}
		signals = append(signals, escalation.InteractionSignal{
			OtherMedication: other,
			Severity:        severity,
			Note:            rule.Note,
		})
	}
	return signals, nil
}

// DemoFormulary answers coverage questions from catalog rules.
type DemoFormulary struct {
	store *CatalogStore
}

// NewDemoFormulary returns a formulary backed by the catalog store.
func NewDemoFormulary(store *CatalogStore) *DemoFormulary {
	return &DemoFormulary{store: store}
}

// Check returns the plan's coverage row for the medication. A missing
// row means not covered rather than an error.
func (d *DemoFormulary) Check(ctx context.Context, patientID, medication string) (FormularyStatus, error) {
	if err := ctx.Err(); err != nil {
		return FormularyStatus{}, err
	}

	catalog := d.store.view()
	profile, ok := catalog.Patients[patientID]
	if !ok {
		return FormularyStatus{}, fmt.Errorf("patient %s: %w", patientID, ErrNotFound)
	}

	for _, rule := range catalog.Formulary {
		if rule.PlanID == profile.PlanID && sameMedication(rule.Medication, medication) {
			return FormularyStatus{
				PlanID:            rule.PlanID,
				Covered:           rule.Covered,
				PriorAuthRequired: rule.PriorAuthRequired,
				CopayCents:        rule.CopayCents,
			}, nil
		}
	}
	return FormularyStatus{PlanID: profile.PlanID}, nil
}

// DemoPharmacies searches the catalog's pharmacy list.
type DemoPharmacies struct {
	store *CatalogStore
}

// NewDemoPharmacies returns a pharmacy directory backed by the catalog
// store.
func NewDemoPharmacies(store *CatalogStore) *DemoPharmacies {
	return &DemoPharmacies{store: store}
}

// Find returns pharmacies matching the hint by name, type, or id. An
// empty hint returns every pharmacy.
func (d *DemoPharmacies) Find(ctx context.Context, patientID, hint string) ([]Pharmacy, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h := normalizeTerm(hint)
	var out []Pharmacy
	for _, ph := range d.store.view().Pharmacies {
		if h == "" ||
			strings.Contains(normalizeTerm(ph.Name), h) ||
			strings.Contains(normalizeTerm(ph.Type), h) ||
			normalizeTerm(ph.ID) == h {
			out = append(out, ph)
		}
	}
	return out, nil
}

// Prices quotes each pharmacy, falling back to a flat cash price when
// the catalog has no row.
func (d *DemoPharmacies) Prices(ctx context.Context, medication string, pharmacies []Pharmacy) ([]Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rules := d.store.view().Prices
	quotes := make([]Quote, 0, len(pharmacies))
	for _, ph := range pharmacies {
		quote := Quote{PharmacyID: ph.ID, PriceCents: fallbackPriceCents}
		for _, rule := range rules {
			if rule.PharmacyID == ph.ID && sameMedication(rule.Medication, medication) {
				quote.PriceCents = rule.PriceCents
				break
			}
		}
		quotes = append(quotes, quote)
	}
	return quotes, nil
}

// DemoGateway accepts every order and invents a pickup estimate.
type DemoGateway struct {
	// ReadyAfter is how far out the pickup estimate lands.
	ReadyAfter time.Duration

	now func() time.Time
}

// NewDemoGateway returns a gateway with a two hour pickup estimate.
func NewDemoGateway() *DemoGateway {
	return &DemoGateway{ReadyAfter: 2 * time.Hour, now: time.Now}
}

// Submit accepts the order and returns a generated confirmation.
func (g *DemoGateway) Submit(ctx context.Context, order Order) (OrderConfirmation, error) {
	if err := ctx.Err(); err != nil {
		return OrderConfirmation{}, err
	}
	if order.Medication == "" || order.PharmacyID == "" {
		return OrderConfirmation{}, fmt.Errorf("order missing medication or pharmacy")
	}

	now := time.Now
	if g.now != nil {
		now = g.now
	}
	return OrderConfirmation{
		OrderID:        "ord-" + uuid.New().String()[:8],
		EstimatedReady: now().Add(g.ReadyAfter),
	}, nil
}
