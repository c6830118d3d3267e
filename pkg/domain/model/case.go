package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/secmon-lab/icsrlink/pkg/domain/types"
)

// CaseID is a UUID-based identifier for Case
type CaseID string

// NewCaseID generates a new UUID v4 CaseID
func NewCaseID() CaseID {
	return CaseID(uuid.New().String())
}

func (id CaseID) String() string {
	return string(id)
}

// Case is one version of an adverse event case report together with its owned child records.
// Dates are ISO strings and may be partial (YYYY, YYYY-MM, YYYY-MM-DD).
type Case struct {
	ID                CaseID `json:"id"`
	SafetyReportID    string `json:"safety_report_id"`
	WorldwideUniqueID string `json:"worldwide_unique_id,omitempty"`

	Status         types.CaseStatus     `json:"status"`
	WorkflowStatus types.WorkflowStatus `json:"workflow_status"`

	Version             int                `json:"version"`
	ParentCaseID        CaseID             `json:"parent_case_id,omitempty"`
	FollowupType        types.FollowupType `json:"followup_type"`
	IsNullified         bool               `json:"is_nullified"`
	NullificationReason string             `json:"nullification_reason,omitempty"`

	// Set on the root case only: the highest version allocated in the chain and whether a
	// nullification has been allocated
	ChainVersion   int  `json:"chain_version,omitempty"`
	ChainNullified bool `json:"chain_nullified,omitempty"`

	ReportType            types.ReportType     `json:"report_type"`
	MarketCategory        types.MarketCategory `json:"market_category"`
	ReceiptDate           string               `json:"receipt_date"`
	MostRecentReceiptDate string               `json:"most_recent_receipt_date,omitempty"`

	Serious                 bool `json:"serious"`
	ResultsInDeath          bool `json:"results_in_death"`
	LifeThreatening         bool `json:"life_threatening"`
	Hospitalization         bool `json:"hospitalization"`
	Disabling               bool `json:"disabling"`
	CongenitalAnomaly       bool `json:"congenital_anomaly"`
	OtherMedicallyImportant bool `json:"other_medically_important"`

	Patient Patient `json:"patient"`
	Sender  Sender  `json:"sender"`

	Narrative        string `json:"narrative"`
	ReporterComments string `json:"reporter_comments,omitempty"`
	SenderComments   string `json:"sender_comments,omitempty"`

	Reporters []Reporter `json:"reporters"`
	Reactions []Reaction `json:"reactions"`
	Drugs     []Drug     `json:"drugs"`

	SubmissionID      string              `json:"submission_id,omitempty"`
	TrackingID        string              `json:"tracking_id,omitempty"`
	ExternalCaseID    string              `json:"external_case_id,omitempty"`
	AckType           types.AckType       `json:"ack_type,omitempty"`
	AckErrors         []AckError          `json:"ack_errors,omitempty"`
	LastError         string              `json:"last_error,omitempty"`
	LastErrorCategory types.ErrorCategory `json:"last_error_category,omitempty"`
	NeedsAttention    bool                `json:"needs_attention"`
	ExportLocation    string              `json:"export_location,omitempty"`
	ExportedAt        *time.Time          `json:"exported_at,omitempty"`
	SubmittedAt       *time.Time          `json:"submitted_at,omitempty"`
	AcknowledgedAt    *time.Time          `json:"acknowledged_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Patient holds the de-identified patient characteristics
type Patient struct {
	Initials       string   `json:"initials,omitempty"`
	BirthDate      string   `json:"birth_date,omitempty"`
	Age            *float64 `json:"age,omitempty"`
	AgeUnit        string   `json:"age_unit,omitempty"` // decade, year, month, week, day, hour
	Sex            string   `json:"sex,omitempty"`      // male, female
	WeightKg       *float64 `json:"weight_kg,omitempty"`
	HeightCm       *float64 `json:"height_cm,omitempty"`
	MedicalHistory string   `json:"medical_history,omitempty"`
}

// HasIdentifier reports whether at least one element identifying the patient is present
func (p Patient) HasIdentifier() bool {
	return p.Initials != "" || p.BirthDate != "" || p.Age != nil || p.Sex != ""
}

// Sender describes the organization transmitting the report
type Sender struct {
	Type         types.SenderType `json:"type"`
	Organization string           `json:"organization"`
	Department   string           `json:"department,omitempty"`
	GivenName    string           `json:"given_name,omitempty"`
	FamilyName   string           `json:"family_name,omitempty"`
	Email        string           `json:"email,omitempty"`
	Country      string           `json:"country,omitempty"`
}

// Reporter is a primary source of the case information
type Reporter struct {
	ID            string `json:"id"`
	GivenName     string `json:"given_name,omitempty"`
	FamilyName    string `json:"family_name,omitempty"`
	Organization  string `json:"organization,omitempty"`
	Qualification string `json:"qualification,omitempty"`
	Country       string `json:"country,omitempty"`
	Email         string `json:"email,omitempty"`
	IsPrimary     bool   `json:"is_primary"`
}

// Reaction is an adverse event observed in the patient
type Reaction struct {
	ID            string `json:"id"`
	ReportedTerm  string `json:"reported_term,omitempty"`
	MedDRACode    string `json:"meddra_code,omitempty"`
	MedDRAVersion string `json:"meddra_version,omitempty"`
	StartDate     string `json:"start_date,omitempty"`
	EndDate       string `json:"end_date,omitempty"`
	Outcome       string `json:"outcome,omitempty"`
}

// Drug is a medicinal product taken by the patient
type Drug struct {
	ID               string                     `json:"id"`
	Characterization types.DrugCharacterization `json:"characterization"`
	ProductName      string                     `json:"product_name"`
	LotNumber        string                     `json:"lot_number,omitempty"`
	Indication       string                     `json:"indication,omitempty"`
	Route            string                     `json:"route,omitempty"`
	ActionTaken      string                     `json:"action_taken,omitempty"`
	StartDate        string                     `json:"start_date,omitempty"`
	EndDate          string                     `json:"end_date,omitempty"`
	Substances       []Substance                `json:"substances,omitempty"`
	Dosages          []Dosage                   `json:"dosages,omitempty"`
}

// Substance is an active ingredient of a drug
type Substance struct {
	Name         string   `json:"name"`
	Strength     *float64 `json:"strength,omitempty"`
	StrengthUnit string   `json:"strength_unit,omitempty"`
}

// Dosage is one dosing regimen of a drug
type Dosage struct {
	Value     *float64 `json:"value,omitempty"`
	Unit      string   `json:"unit,omitempty"`
	Frequency string   `json:"frequency,omitempty"`
	StartDate string   `json:"start_date,omitempty"`
	EndDate   string   `json:"end_date,omitempty"`
	Text      string   `json:"text,omitempty"`
}

// AckError is one structured reason attached to a negative acknowledgment
type AckError struct {
	Code    string `json:"code,omitempty"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// SeriousnessCriteria returns the criteria set on the case in canonical order
func (c *Case) SeriousnessCriteria() []types.SeriousnessCriterion {
	flags := map[types.SeriousnessCriterion]bool{
		types.SeriousnessResultsInDeath:          c.ResultsInDeath,
		types.SeriousnessLifeThreatening:         c.LifeThreatening,
		types.SeriousnessHospitalization:         c.Hospitalization,
		types.SeriousnessDisabling:               c.Disabling,
		types.SeriousnessCongenitalAnomaly:       c.CongenitalAnomaly,
		types.SeriousnessOtherMedicallyImportant: c.OtherMedicallyImportant,
	}

	var criteria []types.SeriousnessCriterion
	for _, criterion := range types.AllSeriousnessCriteria() {
		if flags[criterion] {
			criteria = append(criteria, criterion)
		}
	}
	return criteria
}

// SetSeriousnessCriteria sets the criterion flags from a list in any order. Serious is left
// untouched.
func (c *Case) SetSeriousnessCriteria(criteria []types.SeriousnessCriterion) {
	c.ResultsInDeath = false
	c.LifeThreatening = false
	c.Hospitalization = false
	c.Disabling = false
	c.CongenitalAnomaly = false
	c.OtherMedicallyImportant = false

	for _, criterion := range criteria {
		switch criterion {
		case types.SeriousnessResultsInDeath:
			c.ResultsInDeath = true
		case types.SeriousnessLifeThreatening:
			c.LifeThreatening = true
		case types.SeriousnessHospitalization:
			c.Hospitalization = true
		case types.SeriousnessDisabling:
			c.Disabling = true
		case types.SeriousnessCongenitalAnomaly:
			c.CongenitalAnomaly = true
		case types.SeriousnessOtherMedicallyImportant:
			c.OtherMedicallyImportant = true
		}
	}
}

// SuspectDrugs returns the drugs characterized as suspect
func (c *Case) SuspectDrugs() []Drug {
	var drugs []Drug
	for _, d := range c.Drugs {
		if d.Characterization == types.DrugCharacterizationSuspect {
			drugs = append(drugs, d)
		}
	}
	return drugs
}

// IsRoot reports whether the case is the first version of its chain
func (c *Case) IsRoot() bool {
	return c.ParentCaseID == ""
}

// ApplyDefaults fills zero values of enumerations and version
func (c *Case) ApplyDefaults() {
	c.Status = c.Status.Normalize()
	c.WorkflowStatus = c.WorkflowStatus.Normalize()
	c.FollowupType = c.FollowupType.Normalize()
	c.MarketCategory = c.MarketCategory.Normalize()
	if c.Version < 1 {
		c.Version = 1
	}
	for i := range c.Reporters {
		if c.Reporters[i].ID == "" {
			c.Reporters[i].ID = uuid.New().String()
		}
	}
	for i := range c.Reactions {
		if c.Reactions[i].ID == "" {
			c.Reactions[i].ID = uuid.New().String()
		}
	}
	for i := range c.Drugs {
		if c.Drugs[i].ID == "" {
			c.Drugs[i].ID = uuid.New().String()
		}
	}
}

// ResetSubmissionTracking clears every field written by the export, submission and
// acknowledgment steps.
func (c *Case) ResetSubmissionTracking() {
	c.SubmissionID = ""
	c.TrackingID = ""
	c.ExternalCaseID = ""
	c.AckType = ""
	c.AckErrors = nil
	c.LastError = ""
	c.LastErrorCategory = ""
	c.NeedsAttention = false
	c.ExportLocation = ""
	c.ExportedAt = nil
	c.SubmittedAt = nil
	c.AcknowledgedAt = nil
}

// Clone returns a deep copy of the case
func (c *Case) Clone() *Case {
	if c == nil {
		return nil
	}

	copied := *c
	copied.Patient.Age = cloneFloat(c.Patient.Age)
	copied.Patient.WeightKg = cloneFloat(c.Patient.WeightKg)
	copied.Patient.HeightCm = cloneFloat(c.Patient.HeightCm)

	if c.Reporters != nil {
		copied.Reporters = make([]Reporter, len(c.Reporters))
		copy(copied.Reporters, c.Reporters)
	}
	if c.Reactions != nil {
		copied.Reactions = make([]Reaction, len(c.Reactions))
		copy(copied.Reactions, c.Reactions)
	}
	if c.Drugs != nil {
		copied.Drugs = make([]Drug, len(c.Drugs))
		for i, d := range c.Drugs {
			copied.Drugs[i] = d.clone()
		}
	}
	if c.AckErrors != nil {
		copied.AckErrors = make([]AckError, len(c.AckErrors))
		copy(copied.AckErrors, c.AckErrors)
	}

	copied.ExportedAt = cloneTime(c.ExportedAt)
	copied.SubmittedAt = cloneTime(c.SubmittedAt)
	copied.AcknowledgedAt = cloneTime(c.AcknowledgedAt)

	return &copied
}

func (d Drug) clone() Drug {
	copied := d
	if d.Substances != nil {
		copied.Substances = make([]Substance, len(d.Substances))
		for i, s := range d.Substances {
			s.Strength = cloneFloat(s.Strength)
			copied.Substances[i] = s
		}
	}
	if d.Dosages != nil {
		copied.Dosages = make([]Dosage, len(d.Dosages))
		for i, ds := range d.Dosages {
			ds.Value = cloneFloat(ds.Value)
			copied.Dosages[i] = ds
		}
	}
	return copied
}

func cloneFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	f := *v
	return &f
}

func cloneTime(v *time.Time) *time.Time {
	if v == nil {
		return nil
	}
	t := *v
	return &t
}
