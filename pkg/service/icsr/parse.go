package icsr

import (
	"bytes"
	"encoding/xml"
	"strconv"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/icsrlink/pkg/domain/model"
	"github.com/secmon-lab/icsrlink/pkg/domain/types"
)

var ErrMalformedDocument = goerr.New("malformed ICSR document")

// Document is a decoded single-case document or one body of a batch
type Document struct {
	MessageID    string
	CreationTime time.Time
	SenderID     string
	ReceiverID   string
	Case         *model.Case
}

// BatchDocument is a decoded batch envelope
type BatchDocument struct {
	BatchNumber  string
	BatchType    types.BatchType
	CreationTime time.Time
	SenderID     string
	ReceiverID   string
	Bodies       []*Document
}

// Parse decodes a PORR_IN049016UV document generated by Generate
func Parse(data []byte) (*Document, error) {
	var doc caseDocument
	if err := xml.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil {
		return nil, goerr.Wrap(ErrMalformedDocument, "failed to decode XML", goerr.V("error", err.Error()))
	}
	if doc.XMLName.Local != RootCase {
		return nil, goerr.Wrap(ErrMalformedDocument, "unexpected root element", goerr.V("root", doc.XMLName.Local))
	}
	if doc.Header == nil {
		return nil, goerr.Wrap(ErrMalformedDocument, "message header is missing")
	}

	created, err := parseTimestamp(doc.Header.CreationTime.Value)
	if err != nil {
		return nil, err
	}
	c, err := decodeReport(&doc.Report)
	if err != nil {
		return nil, err
	}

	return &Document{
		MessageID:    doc.Header.ID.Extension,
		CreationTime: created,
		SenderID:     doc.Header.Sender.Device.ID.Extension,
		ReceiverID:   doc.Header.Receiver.Device.ID.Extension,
		Case:         c,
	}, nil
}

// ParseBatch decodes a MCCI_IN200100UV01 envelope generated by GenerateBatch
func ParseBatch(data []byte) (*BatchDocument, error) {
	var doc batchDocument
	if err := xml.NewDecoder(bytes.NewReader(data)).Decode(&doc); err != nil {
		return nil, goerr.Wrap(ErrMalformedDocument, "failed to decode XML", goerr.V("error", err.Error()))
	}
	if doc.XMLName.Local != RootBatch {
		return nil, goerr.Wrap(ErrMalformedDocument, "unexpected root element", goerr.V("root", doc.XMLName.Local))
	}

	created, err := parseTimestamp(doc.Header.CreationTime.Value)
	if err != nil {
		return nil, err
	}

	out := &BatchDocument{
		BatchNumber:  doc.Header.ID.Extension,
		CreationTime: created,
		SenderID:     doc.Header.Sender.Device.ID.Extension,
		ReceiverID:   doc.Header.Receiver.Device.ID.Extension,
	}
	if doc.Header.BatchType != nil {
		out.BatchType = types.BatchType(decodeCode(doc.Header.BatchType, types.BatchTypeCodes))
	}

	for i := range doc.Bodies {
		body := &doc.Bodies[i]
		c, err := decodeReport(&body.Report)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to decode batch body", goerr.V("index", i))
		}
		d := &Document{
			CreationTime: created,
			SenderID:     out.SenderID,
			ReceiverID:   out.ReceiverID,
			Case:         c,
		}
		if body.ID != nil {
			d.MessageID = body.ID.Extension
		}
		out.Bodies = append(out.Bodies, d)
	}

	return out, nil
}

func parseTimestamp(v string) (time.Time, error) {
	t, err := time.Parse(timestampLayout, v)
	if err != nil {
		return time.Time{}, goerr.Wrap(ErrMalformedDocument, "invalid creation time", goerr.V("value", v))
	}
	return t, nil
}

// decodeCode prefers the display name written by Generate and falls back to the code table
func decodeCode(c *code, table *types.CodeTable) string {
	if c == nil {
		return ""
	}
	if c.DisplayName != "" {
		return c.DisplayName
	}
	if v, ok := table.Decode(c.Code); ok {
		return v
	}
	return c.Code
}

func decodeDate(v *value) (string, error) {
	if v == nil || v.Value == "" {
		return "", nil
	}
	d, err := types.ParseCompactDate(v.Value)
	if err != nil {
		return "", goerr.Wrap(ErrMalformedDocument, "invalid date", goerr.V("value", v.Value))
	}
	return d.String(), nil
}

func decodeQuantity(q *quantity) (*float64, string, error) {
	if q == nil {
		return nil, "", nil
	}
	f, err := strconv.ParseFloat(q.Value, 64)
	if err != nil {
		return nil, "", goerr.Wrap(ErrMalformedDocument, "invalid quantity", goerr.V("value", q.Value))
	}
	return &f, q.Unit, nil
}

// dateDecoder keeps the first error so that decoding reads as a flat sequence of assignments
type dateDecoder struct {
	err error
}

func (d *dateDecoder) date(v *value) string {
	s, err := decodeDate(v)
	if err != nil && d.err == nil {
		d.err = err
	}
	return s
}

func (d *dateDecoder) quantity(q *quantity) (*float64, string) {
	f, unit, err := decodeQuantity(q)
	if err != nil && d.err == nil {
		d.err = err
	}
	return f, unit
}

func decodeReport(r *safetyReport) (*model.Case, error) {
	dd := &dateDecoder{}

	c := &model.Case{
		ReportType:            types.ReportType(decodeCode(&r.ReportType, types.ReportTypeCodes)),
		MarketCategory:        types.MarketCategory(decodeCode(&r.MarketCategory, types.MarketCategoryCodes)),
		FollowupType:          types.FollowupType(decodeCode(&r.FollowupType, types.FollowupTypeCodes)),
		ReceiptDate:           dd.date(&r.ReceiptDate),
		MostRecentReceiptDate: dd.date(r.MostRecentReceiptDate),
		Narrative:             r.Narrative,
		ReporterComments:      r.ReporterComments,
		SenderComments:        r.SenderComments,
	}

	for _, id := range r.IDs {
		switch id.Root {
		case OIDSafetyReportID:
			c.SafetyReportID = id.Extension
		case OIDWorldwideUniqueID:
			c.WorldwideUniqueID = id.Extension
		case OIDSenderCaseID:
			c.ID = model.CaseID(id.Extension)
		}
	}

	version, err := strconv.Atoi(r.VersionNumber.Value)
	if err != nil {
		return nil, goerr.Wrap(ErrMalformedDocument, "invalid version number", goerr.V("value", r.VersionNumber.Value))
	}
	c.Version = version

	serious, err := strconv.ParseBool(r.Serious.Value)
	if err != nil {
		return nil, goerr.Wrap(ErrMalformedDocument, "invalid serious flag", goerr.V("value", r.Serious.Value))
	}
	c.Serious = serious

	if r.SeriousnessCriteria != nil {
		var criteria []types.SeriousnessCriterion
		for i := range r.SeriousnessCriteria.Criteria {
			criteria = append(criteria, types.SeriousnessCriterion(decodeCode(&r.SeriousnessCriteria.Criteria[i], types.SeriousnessCodes)))
		}
		c.SetSeriousnessCriteria(criteria)
	}

	if r.Nullification != nil {
		c.IsNullified = true
		c.NullificationReason = r.Nullification.Reason
	}
	if r.RelatedReport != nil {
		c.ParentCaseID = model.CaseID(r.RelatedReport.ID.Extension)
	}

	for i := range r.PrimarySources {
		ps := &r.PrimarySources[i]
		c.Reporters = append(c.Reporters, model.Reporter{
			ID:            ps.ID,
			GivenName:     ps.GivenName,
			FamilyName:    ps.FamilyName,
			Organization:  ps.Organization,
			Qualification: decodeCode(ps.Qualification, types.ReporterQualification),
			Country:       ps.Country,
			Email:         ps.Email,
			IsPrimary:     ps.Primary,
		})
	}

	c.Sender = model.Sender{
		Type:         types.SenderType(decodeCode(&r.Sender.Type, types.SenderTypeCodes)),
		Organization: r.Sender.Organization,
		Department:   r.Sender.Department,
		GivenName:    r.Sender.GivenName,
		FamilyName:   r.Sender.FamilyName,
		Email:        r.Sender.Email,
		Country:      r.Sender.Country,
	}

	age, ageUnit := dd.quantity(r.Patient.Age)
	if ageUnit != "" {
		if v, ok := types.AgeUnit.Decode(ageUnit); ok {
			ageUnit = v
		}
	}
	weight, _ := dd.quantity(r.Patient.BodyWeight)
	height, _ := dd.quantity(r.Patient.Height)
	c.Patient = model.Patient{
		Initials:       r.Patient.Initials,
		BirthDate:      dd.date(r.Patient.BirthTime),
		Age:            age,
		AgeUnit:        ageUnit,
		Sex:            decodeCode(r.Patient.Sex, types.Sex),
		WeightKg:       weight,
		HeightCm:       height,
		MedicalHistory: r.Patient.MedicalHistory,
	}

	for i := range r.Reactions {
		rx := &r.Reactions[i]
		reaction := model.Reaction{
			ID:           rx.ID,
			ReportedTerm: rx.ReportedTerm,
			StartDate:    dd.date(rx.StartDate),
			EndDate:      dd.date(rx.EndDate),
			Outcome:      decodeCode(rx.Outcome, types.ReactionOutcome),
		}
		if rx.MedDRA != nil {
			reaction.MedDRACode = rx.MedDRA.Code
			reaction.MedDRAVersion = rx.MedDRA.CodeSystemVersion
		}
		c.Reactions = append(c.Reactions, reaction)
	}

	for i := range r.Drugs {
		d := &r.Drugs[i]
		out := model.Drug{
			ID:               d.ID,
			Characterization: types.DrugCharacterization(decodeCode(&d.Characterization, types.CharacterizationCodes)),
			ProductName:      d.ProductName,
			LotNumber:        d.LotNumber,
			Indication:       d.Indication,
			StartDate:        dd.date(d.StartDate),
			EndDate:          dd.date(d.EndDate),
			Route:            decodeCode(d.Route, types.RouteOfAdministration),
			ActionTaken:      decodeCode(d.ActionTaken, types.ActionTaken),
		}
		for _, s := range d.Substances {
			strength, unit := dd.quantity(s.Strength)
			out.Substances = append(out.Substances, model.Substance{Name: s.Name, Strength: strength, StrengthUnit: unit})
		}
		for _, ds := range d.Dosages {
			dose, unit := dd.quantity(ds.Dose)
			out.Dosages = append(out.Dosages, model.Dosage{
				Value:     dose,
				Unit:      unit,
				Frequency: ds.Frequency,
				StartDate: dd.date(ds.StartDate),
				EndDate:   dd.date(ds.EndDate),
				Text:      ds.Text,
			})
		}
		c.Drugs = append(c.Drugs, out)
	}

	if dd.err != nil {
		return nil, dd.err
	}
	return c, nil
}
