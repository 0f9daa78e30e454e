package escalation

import "fmt"

// Severity grades a drug interaction signal.
type Severity string

const (
	// SeverityMinor indicates a clinically insignificant interaction.
	SeverityMinor Severity = "minor"
	// SeverityModerate indicates an interaction worth a pharmacist's look.
	SeverityModerate Severity = "moderate"
	// SeverityMajor indicates an interaction requiring intervention.
	SeverityMajor Severity = "major"
	// SeverityContraindicated indicates the combination must not be dispensed.
	SeverityContraindicated Severity = "contraindicated"
)

// severityRank orders severities for threshold comparison.
var severityRank = map[Severity]int{
	SeverityMinor:           1,
	SeverityModerate:        2,
	SeverityMajor:           3,
	SeverityContraindicated: 4,
}

// String returns the string representation of the severity.
func (s Severity) String() string {
	return string(s)
}

// IsValid returns true if the severity is a known grade.
func (s Severity) IsValid() bool {
	_, ok := severityRank[s]
	return ok
}

// AtLeast returns true if s is as severe as min or more so.
// Unknown severities never satisfy a threshold.
func (s Severity) AtLeast(min Severity) bool {
	sr, ok := severityRank[s]
	if !ok {
		return false
	}
	mr, ok := severityRank[min]
	if !ok {
		return false
	}
	return sr >= mr
}

// ParseSeverity converts a string into a Severity.
func ParseSeverity(s string) (Severity, error) {
	sev := Severity(s)
	if !sev.IsValid() {
		return "", fmt.Errorf("unknown interaction severity: %s", s)
	}
	return sev, nil
}
