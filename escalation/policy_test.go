package escalation

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

// evalTime is fixed so early-refill math is stable across runs.
var evalTime = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

func healthyMed() *MedicationFacts {
	return &MedicationFacts{
		Name:             "lisinopril",
		RefillsRemaining: 3,
		LastFilled:       evalTime.Add(-28 * 24 * time.Hour),
		DaysSupply:       30,
	}
}

func TestEvaluateRules(t *testing.T) {
	policy := DefaultPolicy()

	tests := []struct {
		name        string
		med         *MedicationFacts
		signals     []InteractionSignal
		wantNeeded  bool
		wantType    Type
		wantReasons []ReasonCode
	}{
		{
			name:       "healthy medication passes",
			med:        healthyMed(),
			wantNeeded: false,
			wantType:   TypeNone,
		},
		{
			name:        "not found goes to pharmacist",
			med:         nil,
			wantNeeded:  true,
			wantType:    TypePharmacist,
			wantReasons: []ReasonCode{ReasonMedicationNotFound},
		},
		{
			name: "zero refills goes to doctor",
			med: func() *MedicationFacts {
				m := healthyMed()
				m.Name = "metformin"
				m.RefillsRemaining = 0
				return m
			}(),
			wantNeeded:  true,
			wantType:    TypeDoctor,
			wantReasons: []ReasonCode{ReasonNoRefillsRemaining},
		},
		{
			name: "expired prescription goes to doctor",
			med: func() *MedicationFacts {
				m := healthyMed()
				m.PrescriptionExpired = true
				return m
			}(),
			wantNeeded:  true,
			wantType:    TypeDoctor,
			wantReasons: []ReasonCode{ReasonPrescriptionExpired},
		},
		{
			name: "controlled substance goes to doctor",
			med: func() *MedicationFacts {
				m := healthyMed()
				m.Name = "oxycodone"
				m.ControlledSubstance = true
				return m
			}(),
			wantNeeded:  true,
			wantType:    TypeDoctor,
			wantReasons: []ReasonCode{ReasonControlledSubstance},
		},
		{
			name: "early refill goes to pharmacist",
			med: func() *MedicationFacts {
				m := healthyMed()
				m.LastFilled = evalTime.Add(-10 * 24 * time.Hour)
				return m
			}(),
			wantNeeded:  true,
			wantType:    TypePharmacist,
			wantReasons: []ReasonCode{ReasonEarlyRefillRequest},
		},
		{
			name: "moderate interaction goes to pharmacist",
			med:  healthyMed(),
			signals: []InteractionSignal{
				{OtherMedication: "warfarin", Severity: SeverityModerate},
			},
			wantNeeded:  true,
			wantType:    TypePharmacist,
			wantReasons: []ReasonCode{ReasonDrugInteractionConcern},
		},
		{
			name: "minor interaction is below the threshold",
			med:  healthyMed(),
			signals: []InteractionSignal{
				{OtherMedication: "ibuprofen", Severity: SeverityMinor},
			},
			wantNeeded: false,
			wantType:   TypeNone,
		},
		{
			name: "controlled plus early refill keeps doctor precedence",
			med: func() *MedicationFacts {
				m := healthyMed()
				m.Name = "alprazolam"
				m.ControlledSubstance = true
				m.LastFilled = evalTime.Add(-5 * 24 * time.Hour)
				return m
			}(),
			wantNeeded:  true,
			wantType:    TypeDoctor,
			wantReasons: []ReasonCode{ReasonControlledSubstance, ReasonEarlyRefillRequest},
		},
		{
			name: "all matching reasons are collected in rule order",
			med: func() *MedicationFacts {
				m := healthyMed()
				m.RefillsRemaining = 0
				m.PrescriptionExpired = true
				m.ControlledSubstance = true
				m.LastFilled = evalTime.Add(-2 * 24 * time.Hour)
				return m
			}(),
			signals: []InteractionSignal{
				{OtherMedication: "warfarin", Severity: SeverityContraindicated},
			},
			wantNeeded: true,
			wantType:   TypeDoctor,
			wantReasons: []ReasonCode{
				ReasonNoRefillsRemaining,
				ReasonPrescriptionExpired,
				ReasonControlledSubstance,
				ReasonEarlyRefillRequest,
				ReasonDrugInteractionConcern,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := policy.Evaluate(tt.med, tt.signals, evalTime)
			if got.Needed != tt.wantNeeded {
				t.Errorf("Needed = %v, want %v", got.Needed, tt.wantNeeded)
			}
			if got.Type != tt.wantType {
				t.Errorf("Type = %s, want %s", got.Type, tt.wantType)
			}
			if !reflect.DeepEqual(got.Reasons, tt.wantReasons) {
				t.Errorf("Reasons = %v, want %v", got.Reasons, tt.wantReasons)
			}
			if got.Needed && got.Message == "" {
				t.Error("escalation result missing patient-facing message")
			}
			if got.Needed && got.ContactInfo == "" {
				t.Error("escalation result missing contact info")
			}
		})
	}
}

func TestEvaluateIsDeterministic(t *testing.T) {
	policy := DefaultPolicy()
	med := healthyMed()
	med.ControlledSubstance = true
	med.LastFilled = evalTime.Add(-3 * 24 * time.Hour)
	signals := []InteractionSignal{
		{OtherMedication: "warfarin", Severity: SeverityMajor, Note: "bleeding risk"},
	}

	first := policy.Evaluate(med, signals, evalTime)
	second := policy.Evaluate(med, signals, evalTime)

	if !reflect.DeepEqual(first, second) {
		t.Errorf("evaluate is not deterministic:\nfirst  = %+v\nsecond = %+v", first, second)
	}
}

func TestEarlyRefillThreshold(t *testing.T) {
	policy := DefaultPolicy()

	tests := []struct {
		name       string
		lastFilled time.Time
		daysSupply int
		wantEarly  bool
	}{
		// 75% of a 30 day supply is 22.5 days.
		{name: "day 10 of 30 is early", lastFilled: evalTime.Add(-10 * 24 * time.Hour), daysSupply: 30, wantEarly: true},
		{name: "day 22 of 30 is early", lastFilled: evalTime.Add(-22 * 24 * time.Hour), daysSupply: 30, wantEarly: true},
		{name: "day 23 of 30 is allowed", lastFilled: evalTime.Add(-23 * 24 * time.Hour), daysSupply: 30, wantEarly: false},
		{name: "day 28 of 30 is allowed", lastFilled: evalTime.Add(-28 * 24 * time.Hour), daysSupply: 30, wantEarly: false},
		{name: "never filled is allowed", lastFilled: time.Time{}, daysSupply: 30, wantEarly: false},
		{name: "unknown supply is allowed", lastFilled: evalTime.Add(-1 * 24 * time.Hour), daysSupply: 0, wantEarly: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			med := healthyMed()
			med.LastFilled = tt.lastFilled
			med.DaysSupply = tt.daysSupply

			got := policy.Evaluate(med, nil, evalTime)
			gotEarly := false
			for _, r := range got.Reasons {
				if r == ReasonEarlyRefillRequest {
					gotEarly = true
				}
			}
			if gotEarly != tt.wantEarly {
				t.Errorf("early = %v, want %v (reasons %v)", gotEarly, tt.wantEarly, got.Reasons)
			}
		})
	}
}

func TestConfigurableThresholds(t *testing.T) {
	t.Run("half supply fraction allows day 16 of 30", func(t *testing.T) {
		policy := DefaultPolicy()
		policy.EarlyRefillFraction = 0.5

		med := healthyMed()
		med.LastFilled = evalTime.Add(-16 * 24 * time.Hour)

		got := policy.Evaluate(med, nil, evalTime)
		if got.Needed {
			t.Errorf("expected no escalation at 0.5 fraction, got %v", got.Reasons)
		}
	})

	t.Run("major threshold ignores moderate signals", func(t *testing.T) {
		policy := DefaultPolicy()
		policy.MinSeverity = SeverityMajor

		signals := []InteractionSignal{
			{OtherMedication: "warfarin", Severity: SeverityModerate},
		}
		got := policy.Evaluate(healthyMed(), signals, evalTime)
		if got.Needed {
			t.Errorf("expected moderate signal below major threshold, got %v", got.Reasons)
		}

		signals[0].Severity = SeverityContraindicated
		got = policy.Evaluate(healthyMed(), signals, evalTime)
		if !got.Needed {
			t.Error("expected contraindicated signal to escalate")
		}
	})
}

func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Policy)
		wantErr string
	}{
		{name: "default is valid", mutate: func(*Policy) {}},
		{
			name:    "zero fraction rejected",
			mutate:  func(p *Policy) { p.EarlyRefillFraction = 0 },
			wantErr: "early_refill_fraction",
		},
		{
			name:    "fraction above one rejected",
			mutate:  func(p *Policy) { p.EarlyRefillFraction = 1.5 },
			wantErr: "early_refill_fraction",
		},
		{
			name:    "unknown severity rejected",
			mutate:  func(p *Policy) { p.MinSeverity = "catastrophic" },
			wantErr: "min_severity",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := DefaultPolicy()
			tt.mutate(&policy)

			err := policy.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			var te *ThresholdError
			if !errors.As(err, &te) {
				t.Fatalf("expected ThresholdError, got %T", err)
			}
			if te.Field != tt.wantErr {
				t.Errorf("error field = %s, want %s", te.Field, tt.wantErr)
			}
		})
	}
}

func TestParseSeverity(t *testing.T) {
	for _, valid := range []string{"minor", "moderate", "major", "contraindicated"} {
		if _, err := ParseSeverity(valid); err != nil {
			t.Errorf("ParseSeverity(%q) unexpected error: %v", valid, err)
		}
	}
	if _, err := ParseSeverity("mild"); err == nil {
		t.Error("ParseSeverity(\"mild\") expected error")
	}
}

func TestSeverityOrdering(t *testing.T) {
	if !SeverityContraindicated.AtLeast(SeverityMinor) {
		t.Error("contraindicated should satisfy a minor threshold")
	}
	if SeverityMinor.AtLeast(SeverityModerate) {
		t.Error("minor should not satisfy a moderate threshold")
	}
	if Severity("bogus").AtLeast(SeverityMinor) {
		t.Error("unknown severity should never satisfy a threshold")
	}
}
