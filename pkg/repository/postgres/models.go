package postgres

import (
	"fmt"
	"time"

	"github.com/secmon-lab/icsrlink/pkg/domain/model"
	"github.com/secmon-lab/icsrlink/pkg/domain/types"
	"gorm.io/datatypes"
)

// Case is the row of a case version. Patient and sender columns are inlined.
type Case struct {
	ID                string `gorm:"primaryKey"`
	SafetyReportID    string `gorm:"index;not null"`
	WorldwideUniqueID string

	Status         string `gorm:"index;not null"`
	WorkflowStatus string

	Version             int
	ParentCaseID        string `gorm:"index"`
	FollowupType        string
	IsNullified         bool
	NullificationReason string
	ChainVersion        int
	ChainNullified      bool

	ReportType            string
	MarketCategory        string
	ReceiptDate           string
	MostRecentReceiptDate string

	Serious                 bool
	ResultsInDeath          bool
	LifeThreatening         bool
	Hospitalization         bool
	Disabling               bool
	CongenitalAnomaly       bool
	OtherMedicallyImportant bool

	PatientInitials       string
	PatientBirthDate      string
	PatientAge            *float64
	PatientAgeUnit        string
	PatientSex            string
	PatientWeightKg       *float64
	PatientHeightCm       *float64
	PatientMedicalHistory string

	SenderType         string
	SenderOrganization string
	SenderDepartment   string
	SenderGivenName    string
	SenderFamilyName   string
	SenderEmail        string
	SenderCountry      string

	Narrative        string
	ReporterComments string
	SenderComments   string

	Reporters []Reporter `gorm:"foreignKey:CaseID;references:ID;constraint:OnDelete:CASCADE"`
	Reactions []Reaction `gorm:"foreignKey:CaseID;references:ID;constraint:OnDelete:CASCADE"`
	Drugs     []Drug     `gorm:"foreignKey:CaseID;references:ID;constraint:OnDelete:CASCADE"`

	SubmissionID      string
	TrackingID        string
	ExternalCaseID    string
	AckType           string
	AckErrors         datatypes.JSONSlice[model.AckError]
	LastError         string
	LastErrorCategory string
	NeedsAttention    bool
	ExportLocation    string
	ExportedAt        *time.Time
	SubmittedAt       *time.Time
	AcknowledgedAt    *time.Time

	CreatedAt time.Time `gorm:"index;autoCreateTime:false"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false"`
}

// Reporter rows keep the domain identifier next to a surrogate key
type Reporter struct {
	RowID         uint   `gorm:"primaryKey;autoIncrement"`
	CaseID        string `gorm:"index;not null"`
	Position      int
	ReporterID    string
	GivenName     string
	FamilyName    string
	Organization  string
	Qualification string
	Country       string
	Email         string
	IsPrimary     bool
}

type Reaction struct {
	RowID         uint   `gorm:"primaryKey;autoIncrement"`
	CaseID        string `gorm:"index;not null"`
	Position      int
	ReactionID    string
	ReportedTerm  string
	MeddraCode    string
	MeddraVersion string
	StartDate     string
	EndDate       string
	Outcome       string
}

type Drug struct {
	RowID            uint   `gorm:"primaryKey;autoIncrement"`
	CaseID           string `gorm:"index;not null"`
	Position         int
	DrugID           string
	Characterization string
	ProductName      string
	LotNumber        string
	Indication       string
	Route            string
	ActionTaken      string
	StartDate        string
	EndDate          string

	Substances []DrugSubstance `gorm:"foreignKey:DrugRowID;references:RowID;constraint:OnDelete:CASCADE"`
	Dosages    []DrugDosage    `gorm:"foreignKey:DrugRowID;references:RowID;constraint:OnDelete:CASCADE"`
}

type DrugSubstance struct {
	RowID        uint `gorm:"primaryKey;autoIncrement"`
	DrugRowID    uint `gorm:"index;not null"`
	Position     int
	Name         string
	Strength     *float64
	StrengthUnit string
}

type DrugDosage struct {
	RowID     uint `gorm:"primaryKey;autoIncrement"`
	DrugRowID uint `gorm:"index;not null"`
	Position  int
	Value     *float64
	Unit      string
	Frequency string
	StartDate string
	EndDate   string
	Text      string
}

type SubmissionBatch struct {
	ID          string `gorm:"primaryKey"`
	Number      string `gorm:"uniqueIndex"`
	Type        string
	Status      string `gorm:"index;not null"`
	Description string

	ValidCases   int
	InvalidCases int

	ExportLocation    string
	ExportedAt        *time.Time
	SubmissionID      string
	TrackingID        string
	AckType           string
	AckErrors         datatypes.JSONSlice[model.AckError]
	LastError         string
	LastErrorCategory string
	NeedsAttention    bool
	SubmittedAt       *time.Time
	AcknowledgedAt    *time.Time

	Cases []BatchCase `gorm:"foreignKey:BatchID;references:ID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `gorm:"index;autoCreateTime:false"`
	UpdatedAt time.Time `gorm:"autoUpdateTime:false"`
}

type BatchCase struct {
	BatchID     string `gorm:"primaryKey"`
	CaseID      string `gorm:"primaryKey;index"`
	IsValid     *bool
	Errors      datatypes.JSONSlice[model.ValidationError]
	ValidatedAt *time.Time
	AddedAt     time.Time `gorm:"index"`
}

type SubmissionAttempt struct {
	ID            string `gorm:"primaryKey"`
	CaseID        string `gorm:"index"`
	BatchID       string `gorm:"index"`
	SubjectKey    string `gorm:"uniqueIndex:idx_attempt_subject_number;not null"`
	AttemptNumber int    `gorm:"uniqueIndex:idx_attempt_subject_number"`
	Environment   string
	Outcome       string
	LastStep      string

	ErrorCategory string
	ErrorMessage  string
	HTTPStatus    int

	SubmissionID   string
	TrackingID     string
	AckType        string
	ExternalCaseID string

	StartedAt   time.Time
	CompletedAt *time.Time
}

type SubmissionHistoryEntry struct {
	ID         string `gorm:"primaryKey"`
	CaseID     string `gorm:"index"`
	BatchID    string `gorm:"index"`
	Event      string `gorm:"not null"`
	FromStatus string
	ToStatus   string
	Message    string
	Details    datatypes.JSONMap `gorm:"type:jsonb"`
	CreatedAt  time.Time         `gorm:"index;autoCreateTime:false"`
}

type Sequence struct {
	Scope string `gorm:"primaryKey"`
	Value int64
}

func utc(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := utc(*t)
	return &v
}

func toAckErrors(errs []model.AckError) datatypes.JSONSlice[model.AckError] {
	if errs == nil {
		return nil
	}
	return datatypes.NewJSONSlice(errs)
}

func fromAckErrors(errs datatypes.JSONSlice[model.AckError]) []model.AckError {
	if len(errs) == 0 {
		return nil
	}
	out := make([]model.AckError, len(errs))
	copy(out, errs)
	return out
}

func newCaseRow(c *model.Case) *Case {
	row := &Case{
		ID:                      string(c.ID),
		SafetyReportID:          c.SafetyReportID,
		WorldwideUniqueID:       c.WorldwideUniqueID,
		Status:                  string(c.Status),
		WorkflowStatus:          string(c.WorkflowStatus),
		Version:                 c.Version,
		ParentCaseID:            string(c.ParentCaseID),
		FollowupType:            string(c.FollowupType),
		IsNullified:             c.IsNullified,
		NullificationReason:     c.NullificationReason,
		ChainVersion:            c.ChainVersion,
		ChainNullified:          c.ChainNullified,
		ReportType:              string(c.ReportType),
		MarketCategory:          string(c.MarketCategory),
		ReceiptDate:             c.ReceiptDate,
		MostRecentReceiptDate:   c.MostRecentReceiptDate,
		Serious:                 c.Serious,
		ResultsInDeath:          c.ResultsInDeath,
		LifeThreatening:         c.LifeThreatening,
		Hospitalization:         c.Hospitalization,
		Disabling:               c.Disabling,
		CongenitalAnomaly:       c.CongenitalAnomaly,
		OtherMedicallyImportant: c.OtherMedicallyImportant,

		PatientInitials:       c.Patient.Initials,
		PatientBirthDate:      c.Patient.BirthDate,
		PatientAge:            c.Patient.Age,
		PatientAgeUnit:        c.Patient.AgeUnit,
		PatientSex:            c.Patient.Sex,
		PatientWeightKg:       c.Patient.WeightKg,
		PatientHeightCm:       c.Patient.HeightCm,
		PatientMedicalHistory: c.Patient.MedicalHistory,

		SenderType:         string(c.Sender.Type),
		SenderOrganization: c.Sender.Organization,
		SenderDepartment:   c.Sender.Department,
		SenderGivenName:    c.Sender.GivenName,
		SenderFamilyName:   c.Sender.FamilyName,
		SenderEmail:        c.Sender.Email,
		SenderCountry:      c.Sender.Country,

		Narrative:        c.Narrative,
		ReporterComments: c.ReporterComments,
		SenderComments:   c.SenderComments,

		SubmissionID:      c.SubmissionID,
		TrackingID:        c.TrackingID,
		ExternalCaseID:    c.ExternalCaseID,
		AckType:           string(c.AckType),
		AckErrors:         toAckErrors(c.AckErrors),
		LastError:         c.LastError,
		LastErrorCategory: string(c.LastErrorCategory),
		NeedsAttention:    c.NeedsAttention,
		ExportLocation:    c.ExportLocation,
		ExportedAt:        utcPtr(c.ExportedAt),
		SubmittedAt:       utcPtr(c.SubmittedAt),
		AcknowledgedAt:    utcPtr(c.AcknowledgedAt),

		CreatedAt: utc(c.CreatedAt),
		UpdatedAt: utc(c.UpdatedAt),
	}

	for i, r := range c.Reporters {
		row.Reporters = append(row.Reporters, Reporter{
			CaseID:        row.ID,
			Position:      i,
			ReporterID:    r.ID,
			GivenName:     r.GivenName,
			FamilyName:    r.FamilyName,
			Organization:  r.Organization,
			Qualification: r.Qualification,
			Country:       r.Country,
			Email:         r.Email,
			IsPrimary:     r.IsPrimary,
		})
	}
	for i, r := range c.Reactions {
		row.Reactions = append(row.Reactions, Reaction{
			CaseID:        row.ID,
			Position:      i,
			ReactionID:    r.ID,
			ReportedTerm:  r.ReportedTerm,
			MeddraCode:    r.MedDRACode,
			MeddraVersion: r.MedDRAVersion,
			StartDate:     r.StartDate,
			EndDate:       r.EndDate,
			Outcome:       r.Outcome,
		})
	}
	for i, d := range c.Drugs {
		drug := Drug{
			CaseID:           row.ID,
			Position:         i,
			DrugID:           d.ID,
			Characterization: string(d.Characterization),
			ProductName:      d.ProductName,
			LotNumber:        d.LotNumber,
			Indication:       d.Indication,
			Route:            d.Route,
			ActionTaken:      d.ActionTaken,
			StartDate:        d.StartDate,
			EndDate:          d.EndDate,
		}
		for j, s := range d.Substances {
			drug.Substances = append(drug.Substances, DrugSubstance{
				Position:     j,
				Name:         s.Name,
				Strength:     s.Strength,
				StrengthUnit: s.StrengthUnit,
			})
		}
		for j, ds := range d.Dosages {
			drug.Dosages = append(drug.Dosages, DrugDosage{
				Position:  j,
				Value:     ds.Value,
				Unit:      ds.Unit,
				Frequency: ds.Frequency,
				StartDate: ds.StartDate,
				EndDate:   ds.EndDate,
				Text:      ds.Text,
			})
		}
		row.Drugs = append(row.Drugs, drug)
	}

	return row
}

func (row *Case) toModel() *model.Case {
	c := &model.Case{
		ID:                      model.CaseID(row.ID),
		SafetyReportID:          row.SafetyReportID,
		WorldwideUniqueID:       row.WorldwideUniqueID,
		Status:                  types.CaseStatus(row.Status),
		WorkflowStatus:          types.WorkflowStatus(row.WorkflowStatus),
		Version:                 row.Version,
		ParentCaseID:            model.CaseID(row.ParentCaseID),
		FollowupType:            types.FollowupType(row.FollowupType),
		IsNullified:             row.IsNullified,
		NullificationReason:     row.NullificationReason,
		ChainVersion:            row.ChainVersion,
		ChainNullified:          row.ChainNullified,
		ReportType:              types.ReportType(row.ReportType),
		MarketCategory:          types.MarketCategory(row.MarketCategory),
		ReceiptDate:             row.ReceiptDate,
		MostRecentReceiptDate:   row.MostRecentReceiptDate,
		Serious:                 row.Serious,
		ResultsInDeath:          row.ResultsInDeath,
		LifeThreatening:         row.LifeThreatening,
		Hospitalization:         row.Hospitalization,
		Disabling:               row.Disabling,
		CongenitalAnomaly:       row.CongenitalAnomaly,
		OtherMedicallyImportant: row.OtherMedicallyImportant,
		Patient: model.Patient{
			Initials:       row.PatientInitials,
			BirthDate:      row.PatientBirthDate,
			Age:            row.PatientAge,
			AgeUnit:        row.PatientAgeUnit,
			Sex:            row.PatientSex,
			WeightKg:       row.PatientWeightKg,
			HeightCm:       row.PatientHeightCm,
			MedicalHistory: row.PatientMedicalHistory,
		},
		Sender: model.Sender{
			Type:         types.SenderType(row.SenderType),
			Organization: row.SenderOrganization,
			Department:   row.SenderDepartment,
			GivenName:    row.SenderGivenName,
			FamilyName:   row.SenderFamilyName,
			Email:        row.SenderEmail,
			Country:      row.SenderCountry,
		},
		Narrative:         row.Narrative,
		ReporterComments:  row.ReporterComments,
		SenderComments:    row.SenderComments,
		SubmissionID:      row.SubmissionID,
		TrackingID:        row.TrackingID,
		ExternalCaseID:    row.ExternalCaseID,
		AckType:           types.AckType(row.AckType),
		AckErrors:         fromAckErrors(row.AckErrors),
		LastError:         row.LastError,
		LastErrorCategory: types.ErrorCategory(row.LastErrorCategory),
		NeedsAttention:    row.NeedsAttention,
		ExportLocation:    row.ExportLocation,
		ExportedAt:        utcPtr(row.ExportedAt),
		SubmittedAt:       utcPtr(row.SubmittedAt),
		AcknowledgedAt:    utcPtr(row.AcknowledgedAt),
		CreatedAt:         utc(row.CreatedAt),
		UpdatedAt:         utc(row.UpdatedAt),
	}

	for _, r := range row.Reporters {
		c.Reporters = append(c.Reporters, model.Reporter{
			ID:            r.ReporterID,
			GivenName:     r.GivenName,
			FamilyName:    r.FamilyName,
			Organization:  r.Organization,
			Qualification: r.Qualification,
			Country:       r.Country,
			Email:         r.Email,
			IsPrimary:     r.IsPrimary,
		})
	}
	for _, r := range row.Reactions {
		c.Reactions = append(c.Reactions, model.Reaction{
			ID:            r.ReactionID,
			ReportedTerm:  r.ReportedTerm,
			MedDRACode:    r.MeddraCode,
			MedDRAVersion: r.MeddraVersion,
			StartDate:     r.StartDate,
			EndDate:       r.EndDate,
			Outcome:       r.Outcome,
		})
	}
	for _, d := range row.Drugs {
		drug := model.Drug{
			ID:               d.DrugID,
			Characterization: types.DrugCharacterization(d.Characterization),
			ProductName:      d.ProductName,
			LotNumber:        d.LotNumber,
			Indication:       d.Indication,
			Route:            d.Route,
			ActionTaken:      d.ActionTaken,
			StartDate:        d.StartDate,
			EndDate:          d.EndDate,
		}
		for _, s := range d.Substances {
			drug.Substances = append(drug.Substances, model.Substance{
				Name:         s.Name,
				Strength:     s.Strength,
				StrengthUnit: s.StrengthUnit,
			})
		}
		for _, ds := range d.Dosages {
			drug.Dosages = append(drug.Dosages, model.Dosage{
				Value:     ds.Value,
				Unit:      ds.Unit,
				Frequency: ds.Frequency,
				StartDate: ds.StartDate,
				EndDate:   ds.EndDate,
				Text:      ds.Text,
			})
		}
		c.Drugs = append(c.Drugs, drug)
	}

	return c
}

func newBatchRow(b *model.Batch) *SubmissionBatch {
	return &SubmissionBatch{
		ID:                string(b.ID),
		Number:            b.Number,
		Type:              string(b.Type),
		Status:            string(b.Status),
		Description:       b.Description,
		ValidCases:        b.ValidCases,
		InvalidCases:      b.InvalidCases,
		ExportLocation:    b.ExportLocation,
		ExportedAt:        utcPtr(b.ExportedAt),
		SubmissionID:      b.SubmissionID,
		TrackingID:        b.TrackingID,
		AckType:           string(b.AckType),
		AckErrors:         toAckErrors(b.AckErrors),
		LastError:         b.LastError,
		LastErrorCategory: string(b.LastErrorCategory),
		NeedsAttention:    b.NeedsAttention,
		SubmittedAt:       utcPtr(b.SubmittedAt),
		AcknowledgedAt:    utcPtr(b.AcknowledgedAt),
		CreatedAt:         utc(b.CreatedAt),
		UpdatedAt:         utc(b.UpdatedAt),
	}
}

func (row *SubmissionBatch) toModel() *model.Batch {
	return &model.Batch{
		ID:                model.BatchID(row.ID),
		Number:            row.Number,
		Type:              types.BatchType(row.Type),
		Status:            types.BatchStatus(row.Status),
		Description:       row.Description,
		ValidCases:        row.ValidCases,
		InvalidCases:      row.InvalidCases,
		ExportLocation:    row.ExportLocation,
		ExportedAt:        utcPtr(row.ExportedAt),
		SubmissionID:      row.SubmissionID,
		TrackingID:        row.TrackingID,
		AckType:           types.AckType(row.AckType),
		AckErrors:         fromAckErrors(row.AckErrors),
		LastError:         row.LastError,
		LastErrorCategory: types.ErrorCategory(row.LastErrorCategory),
		NeedsAttention:    row.NeedsAttention,
		SubmittedAt:       utcPtr(row.SubmittedAt),
		AcknowledgedAt:    utcPtr(row.AcknowledgedAt),
		CreatedAt:         utc(row.CreatedAt),
		UpdatedAt:         utc(row.UpdatedAt),
	}
}

func newBatchCaseRow(bc *model.BatchCase) *BatchCase {
	row := &BatchCase{
		BatchID:     string(bc.BatchID),
		CaseID:      string(bc.CaseID),
		IsValid:     bc.IsValid,
		ValidatedAt: utcPtr(bc.ValidatedAt),
		AddedAt:     utc(bc.AddedAt),
	}
	if bc.Errors != nil {
		row.Errors = datatypes.NewJSONSlice([]model.ValidationError(bc.Errors))
	}
	return row
}

func (row *BatchCase) toModel() *model.BatchCase {
	bc := &model.BatchCase{
		BatchID:     model.BatchID(row.BatchID),
		CaseID:      model.CaseID(row.CaseID),
		IsValid:     row.IsValid,
		ValidatedAt: utcPtr(row.ValidatedAt),
		AddedAt:     utc(row.AddedAt),
	}
	if len(row.Errors) > 0 {
		bc.Errors = make(model.ValidationErrors, len(row.Errors))
		copy(bc.Errors, row.Errors)
	}
	return bc
}

func newAttemptRow(a *model.SubmissionAttempt) *SubmissionAttempt {
	return &SubmissionAttempt{
		ID:             string(a.ID),
		CaseID:         string(a.CaseID),
		BatchID:        string(a.BatchID),
		SubjectKey:     a.SubjectKey(),
		AttemptNumber:  a.AttemptNumber,
		Environment:    string(a.Environment),
		Outcome:        string(a.Outcome),
		LastStep:       string(a.LastStep),
		ErrorCategory:  string(a.ErrorCategory),
		ErrorMessage:   a.ErrorMessage,
		HTTPStatus:     a.HTTPStatus,
		SubmissionID:   a.SubmissionID,
		TrackingID:     a.TrackingID,
		AckType:        string(a.AckType),
		ExternalCaseID: a.ExternalCaseID,
		StartedAt:      utc(a.StartedAt),
		CompletedAt:    utcPtr(a.CompletedAt),
	}
}

func (row *SubmissionAttempt) toModel() *model.SubmissionAttempt {
	return &model.SubmissionAttempt{
		ID:             model.AttemptID(row.ID),
		CaseID:         model.CaseID(row.CaseID),
		BatchID:        model.BatchID(row.BatchID),
		AttemptNumber:  row.AttemptNumber,
		Environment:    types.Environment(row.Environment),
		Outcome:        types.AttemptOutcome(row.Outcome),
		LastStep:       types.ProtocolStep(row.LastStep),
		ErrorCategory:  types.ErrorCategory(row.ErrorCategory),
		ErrorMessage:   row.ErrorMessage,
		HTTPStatus:     row.HTTPStatus,
		SubmissionID:   row.SubmissionID,
		TrackingID:     row.TrackingID,
		AckType:        types.AckType(row.AckType),
		ExternalCaseID: row.ExternalCaseID,
		StartedAt:      utc(row.StartedAt),
		CompletedAt:    utcPtr(row.CompletedAt),
	}
}

func newHistoryRow(h *model.HistoryEntry) *SubmissionHistoryEntry {
	row := &SubmissionHistoryEntry{
		ID:         string(h.ID),
		CaseID:     string(h.CaseID),
		BatchID:    string(h.BatchID),
		Event:      string(h.Event),
		FromStatus: h.FromStatus,
		ToStatus:   h.ToStatus,
		Message:    h.Message,
		CreatedAt:  utc(h.CreatedAt),
	}
	if h.Details != nil {
		row.Details = make(datatypes.JSONMap, len(h.Details))
		for k, v := range h.Details {
			row.Details[k] = v
		}
	}
	return row
}

func (row *SubmissionHistoryEntry) toModel() *model.HistoryEntry {
	h := &model.HistoryEntry{
		ID:         model.HistoryEntryID(row.ID),
		CaseID:     model.CaseID(row.CaseID),
		BatchID:    model.BatchID(row.BatchID),
		Event:      types.HistoryEvent(row.Event),
		FromStatus: row.FromStatus,
		ToStatus:   row.ToStatus,
		Message:    row.Message,
		CreatedAt:  utc(row.CreatedAt),
	}
	if len(row.Details) > 0 {
		h.Details = make(map[string]string, len(row.Details))
		for k, v := range row.Details {
			h.Details[k] = fmt.Sprint(v)
		}
	}
	return h
}
