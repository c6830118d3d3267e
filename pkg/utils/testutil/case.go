package testutil

import (
	"github.com/google/uuid"
	"github.com/secmon-lab/icsrlink/pkg/domain/model"
	"github.com/secmon-lab/icsrlink/pkg/domain/types"
)

// Ptr returns a pointer to v
func Ptr[T any](v T) *T {
	return &v
}

// NewCase returns a case that passes validation and XML generation. Mutators are applied in
// order after the defaults.
func NewCase(mutators ...func(c *model.Case)) *model.Case {
	c := &model.Case{
		SafetyReportID:        "US-ACME-" + uuid.New().String()[:8],
		ReportType:            types.ReportTypeSpontaneous,
		MarketCategory:        types.MarketCategoryPostmarket,
		ReceiptDate:           "2024-03-01",
		MostRecentReceiptDate: "2024-03-05",
		Serious:               true,
		Hospitalization:       true,
		Patient: model.Patient{
			Initials: "JD",
			Age:      Ptr(54.0),
			AgeUnit:  "year",
			Sex:      "female",
			WeightKg: Ptr(68.5),
		},
		Sender: model.Sender{
			Type:         types.SenderTypePharmaceuticalCompany,
			Organization: "Acme Pharma",
			Email:        "safety@acme.example",
			Country:      "US",
		},
		Narrative: "Patient developed a severe rash two days after starting the drug and was hospitalized.",
		Reporters: []model.Reporter{{
			GivenName:     "Alex",
			FamilyName:    "Kim",
			Qualification: "physician",
			Country:       "US",
			IsPrimary:     true,
		}},
		Reactions: []model.Reaction{{
			ReportedTerm: "severe rash",
			MedDRACode:   "10037844",
			StartDate:    "2024-02-20",
			Outcome:      "recovering",
		}},
		Drugs: []model.Drug{{
			Characterization: types.DrugCharacterizationSuspect,
			ProductName:      "Acmezol",
			Route:            "oral",
			ActionTaken:      "withdrawn",
			StartDate:        "2024-02-18",
			Substances:       []model.Substance{{Name: "acmezolam", Strength: Ptr(50.0), StrengthUnit: "mg"}},
			Dosages:          []model.Dosage{{Value: Ptr(50.0), Unit: "mg", Frequency: "daily"}},
		}},
	}
	c.ApplyDefaults()

	for _, m := range mutators {
		m(c)
	}
	return c
}
