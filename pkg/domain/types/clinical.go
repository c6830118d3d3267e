package types

import "fmt"

// DrugCharacterization is the role a drug played in the adverse event
type DrugCharacterization string

const (
	DrugCharacterizationSuspect     DrugCharacterization = "suspect"
	DrugCharacterizationConcomitant DrugCharacterization = "concomitant"
	DrugCharacterizationInteracting DrugCharacterization = "interacting"
)

// IsValid checks if the characterization is valid
func (c DrugCharacterization) IsValid() bool {
	switch c {
	case DrugCharacterizationSuspect,
		DrugCharacterizationConcomitant,
		DrugCharacterizationInteracting:
		return true
	default:
		return false
	}
}

func (c DrugCharacterization) String() string {
	return string(c)
}

// ParseDrugCharacterization parses a string into a DrugCharacterization
func ParseDrugCharacterization(s string) (DrugCharacterization, error) {
	c := DrugCharacterization(s)
	if !c.IsValid() {
		return "", fmt.Errorf("invalid drug characterization: %s", s)
	}
	return c, nil
}

// SeriousnessCriterion is one member of the closed seriousness vocabulary
type SeriousnessCriterion string

const (
	SeriousnessResultsInDeath          SeriousnessCriterion = "results_in_death"
	SeriousnessLifeThreatening         SeriousnessCriterion = "life_threatening"
	SeriousnessHospitalization         SeriousnessCriterion = "hospitalization"
	SeriousnessDisabling               SeriousnessCriterion = "disabling"
	SeriousnessCongenitalAnomaly       SeriousnessCriterion = "congenital_anomaly"
	SeriousnessOtherMedicallyImportant SeriousnessCriterion = "other_medically_important"
)

// AllSeriousnessCriteria returns the vocabulary in its canonical enumeration order. Rendered
// seriousness sets always follow this order.
func AllSeriousnessCriteria() []SeriousnessCriterion {
	return []SeriousnessCriterion{
		SeriousnessResultsInDeath,
		SeriousnessLifeThreatening,
		SeriousnessHospitalization,
		SeriousnessDisabling,
		SeriousnessCongenitalAnomaly,
		SeriousnessOtherMedicallyImportant,
	}
}

func (c SeriousnessCriterion) String() string {
	return string(c)
}

// SenderType is the kind of organization sending the report
type SenderType string

const (
	SenderTypePharmaceuticalCompany SenderType = "pharmaceutical_company"
	SenderTypeRegulatoryAuthority   SenderType = "regulatory_authority"
	SenderTypeHealthProfessional    SenderType = "health_professional"
	SenderTypeRegionalCenter        SenderType = "regional_pharmacovigilance_center"
	SenderTypeWHOCenter             SenderType = "who_collaborating_center"
	SenderTypeOther                 SenderType = "other"
	SenderTypePatient               SenderType = "patient"
)

// IsValid checks if the sender type is valid
func (t SenderType) IsValid() bool {
	switch t {
	case SenderTypePharmaceuticalCompany,
		SenderTypeRegulatoryAuthority,
		SenderTypeHealthProfessional,
		SenderTypeRegionalCenter,
		SenderTypeWHOCenter,
		SenderTypeOther,
		SenderTypePatient:
		return true
	default:
		return false
	}
}

func (t SenderType) String() string {
	return string(t)
}
