package erx

import "time"

// Demo identities used by the seeded catalog and the default agent
// configuration.
const (
	DemoPatientID = "patient-demo"
	DemoPlanID    = "plan-basic"
)

// DefaultCatalog builds the embedded demo dataset. Fill dates are
// seeded relative to now so early-refill math behaves the same on any
// day the demo runs.
//
// The profile is arranged to exercise every conversation path: two
// medications share a "blood pressure" alias, metformin is out of
// refills, warfarin is expired, oxycodone is controlled, sertraline
// was filled too recently, ibuprofen interacts with warfarin, and
// eliquis needs prior authorization.
func DefaultCatalog(now time.Time) Catalog {
	filled := func(daysAgo int) time.Time {
		return now.AddDate(0, 0, -daysAgo)
	}

	return Catalog{
		Patients: map[string]PatientProfile{
			DemoPatientID: {
				PlanID: DemoPlanID,
				Medications: []Medication{
					{
						Name:             "lisinopril",
						Dosage:           "10 mg",
						RxCUI:            "314076",
						Aliases:          []string{"blood pressure", "prinivil", "zestril"},
						RefillsRemaining: 3,
						LastFilled:       filled(25),
						DaysSupply:       30,
					},
					{
						Name:             "amlodipine",
						Dosage:           "5 mg",
						RxCUI:            "197361",
						Aliases:          []string{"blood pressure", "norvasc"},
						RefillsRemaining: 2,
						LastFilled:       filled(26),
						DaysSupply:       30,
					},
					{
						Name:             "metformin",
						Dosage:           "500 mg",
						RxCUI:            "860975",
						Aliases:          []string{"glucophage", "diabetes"},
						RefillsRemaining: 0,
						LastFilled:       filled(24),
						DaysSupply:       30,
					},
					{
						Name:             "atorvastatin",
						Dosage:           "20 mg",
						RxCUI:            "617312",
						Aliases:          []string{"lipitor", "cholesterol"},
						RefillsRemaining: 5,
						LastFilled:       filled(27),
						DaysSupply:       30,
					},
					{
						Name:             "sertraline",
						Dosage:           "50 mg",
						RxCUI:            "312941",
						Aliases:          []string{"zoloft"},
						RefillsRemaining: 2,
						LastFilled:       filled(6),
						DaysSupply:       30,
					},
					{
						Name:                "oxycodone",
						Dosage:              "5 mg",
						RxCUI:               "1049621",
						ControlledSubstance: true,
						RefillsRemaining:    1,
						LastFilled:          filled(20),
						DaysSupply:          30,
					},
					{
						Name:                "warfarin",
						Dosage:              "5 mg",
						RxCUI:               "855332",
						Aliases:             []string{"coumadin", "blood thinner"},
						RefillsRemaining:    4,
						PrescriptionExpired: true,
						LastFilled:          filled(40),
						DaysSupply:          30,
					},
					{
						Name:             "ibuprofen",
						Dosage:           "800 mg",
						RxCUI:            "197806",
						Aliases:          []string{"motrin"},
						RefillsRemaining: 1,
						LastFilled:       filled(25),
						DaysSupply:       30,
					},
					{
						Name:             "eliquis",
						Dosage:           "5 mg",
						RxCUI:            "1364447",
						Aliases:          []string{"apixaban"},
						RefillsRemaining: 2,
						LastFilled:       filled(25),
						DaysSupply:       30,
					},
				},
			},
			"patient-2": {
				PlanID: DemoPlanID,
				Medications: []Medication{
					{
						Name:             "levothyroxine",
						Dosage:           "75 mcg",
						RxCUI:            "966224",
						Aliases:          []string{"synthroid", "thyroid"},
						RefillsRemaining: 6,
						LastFilled:       filled(28),
						DaysSupply:       30,
					},
				},
			},
		},
		Interactions: []InteractionRule{
			{
				MedicationA: "warfarin",
				MedicationB: "ibuprofen",
				Severity:    "major",
				Note:        "NSAIDs raise bleeding risk with warfarin",
			},
			{
				MedicationA: "amlodipine",
				MedicationB: "atorvastatin",
				Severity:    "minor",
				Note:        "amlodipine can raise atorvastatin exposure",
			},
		},
		Formulary: []FormularyRule{
			{PlanID: DemoPlanID, Medication: "lisinopril", Covered: true, CopayCents: 500},
			{PlanID: DemoPlanID, Medication: "amlodipine", Covered: true, CopayCents: 500},
			{PlanID: DemoPlanID, Medication: "metformin", Covered: true, CopayCents: 400},
			{PlanID: DemoPlanID, Medication: "atorvastatin", Covered: true, CopayCents: 700},
			{PlanID: DemoPlanID, Medication: "sertraline", Covered: true, CopayCents: 600},
			{PlanID: DemoPlanID, Medication: "oxycodone", Covered: true, PriorAuthRequired: true, CopayCents: 1000},
			{PlanID: DemoPlanID, Medication: "warfarin", Covered: true, CopayCents: 300},
			{PlanID: DemoPlanID, Medication: "ibuprofen", Covered: true, CopayCents: 200},
			{PlanID: DemoPlanID, Medication: "eliquis", Covered: true, PriorAuthRequired: true, CopayCents: 4500},
			{PlanID: DemoPlanID, Medication: "levothyroxine", Covered: true, CopayCents: 400},
		},
		Pharmacies: []Pharmacy{
			{
				ID:      "ph-main-street",
				Name:    "Main Street Pharmacy",
				Type:    PharmacyTypeRetail,
				Address: "214 Main St",
				Phone:   "555-0134",
			},
			{
				ID:      "ph-mailrx",
				Name:    "MailRx Home Delivery",
				Type:    PharmacyTypeMailOrder,
				Address: "PO Box 9120",
				Phone:   "555-0177",
			},
			{
				ID:      "ph-allnight",
				Name:    "All Night Drug",
				Type:    PharmacyTypeTwentyFourHr,
				Address: "87 Harbor Ave",
				Phone:   "555-0191",
			},
			{
				ID:      "ph-specialty",
				Name:    "Riverside Specialty Pharmacy",
				Type:    PharmacyTypeSpecialty,
				Address: "400 Medical Plaza",
				Phone:   "555-0150",
			},
		},
		Prices: []PriceRule{
			{PharmacyID: "ph-main-street", Medication: "lisinopril", PriceCents: 850},
			{PharmacyID: "ph-mailrx", Medication: "lisinopril", PriceCents: 620},
			{PharmacyID: "ph-allnight", Medication: "lisinopril", PriceCents: 990},
			{PharmacyID: "ph-main-street", Medication: "amlodipine", PriceCents: 780},
			{PharmacyID: "ph-mailrx", Medication: "amlodipine", PriceCents: 590},
			{PharmacyID: "ph-allnight", Medication: "amlodipine", PriceCents: 940},
			{PharmacyID: "ph-main-street", Medication: "atorvastatin", PriceCents: 1120},
			{PharmacyID: "ph-mailrx", Medication: "atorvastatin", PriceCents: 890},
			{PharmacyID: "ph-allnight", Medication: "atorvastatin", PriceCents: 1300},
			{PharmacyID: "ph-main-street", Medication: "metformin", PriceCents: 450},
			{PharmacyID: "ph-mailrx", Medication: "metformin", PriceCents: 380},
			{PharmacyID: "ph-main-street", Medication: "sertraline", PriceCents: 720},
			{PharmacyID: "ph-mailrx", Medication: "sertraline", PriceCents: 610},
			{PharmacyID: "ph-specialty", Medication: "eliquis", PriceCents: 18900},
		},
	}
}
