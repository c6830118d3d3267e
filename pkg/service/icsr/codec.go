package icsr

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/icsrlink/pkg/domain/model"
	"github.com/secmon-lab/icsrlink/pkg/domain/types"
)

const (
	DefaultPostmarketReceiver = "ZZFDA"
	DefaultPremarketReceiver  = "ZZFDA_PREMKT"

	timestampLayout = "20060102150405"
	itsVersion      = "XML_1.0"
)

// Options controls the message header. Zero fields take defaults.
type Options struct {
	SenderID           string
	PostmarketReceiver string
	PremarketReceiver  string
	MessageID          func() string
	Now                func() time.Time
}

func (o Options) withDefaults() Options {
	if o.SenderID == "" {
		o.SenderID = "UNKNOWN_SENDER"
	}
	if o.PostmarketReceiver == "" {
		o.PostmarketReceiver = DefaultPostmarketReceiver
	}
	if o.PremarketReceiver == "" {
		o.PremarketReceiver = DefaultPremarketReceiver
	}
	if o.MessageID == nil {
		o.MessageID = func() string { return uuid.New().String() }
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Receiver returns the receiver identifier routing a case of the given market category
func (o Options) Receiver(category types.MarketCategory) (string, error) {
	o = o.withDefaults()
	switch category.Normalize() {
	case types.MarketCategoryPostmarket:
		return o.PostmarketReceiver, nil
	case types.MarketCategoryPremarket:
		return o.PremarketReceiver, nil
	default:
		return "", goerr.New("no receiver for market category", goerr.V("market_category", category))
	}
}

// Result of generating a single-case document
type Result struct {
	Success  bool
	XML      []byte
	Errors   model.ValidationErrors
	Warnings model.ValidationErrors
}

// GenerateCase generates a document from the case and its own child records
func GenerateCase(c *model.Case, opts Options) *Result {
	if c == nil {
		return &Result{Errors: model.ValidationErrors{fieldError("case", "case is required")}}
	}
	return Generate(c, c.Reporters, c.Reactions, c.Drugs, opts)
}

// Generate serializes a case with the given child records into a PORR_IN049016UV document.
// Generation fails without partial output when a precondition is not met or a coded value
// has no mapping.
func Generate(c *model.Case, reporters []model.Reporter, reactions []model.Reaction, drugs []model.Drug, opts Options) *Result {
	if c == nil {
		return &Result{Errors: model.ValidationErrors{fieldError("case", "case is required")}}
	}
	opts = opts.withDefaults()

	b := &builder{}
	report := b.safetyReport(c, reporters, reactions, drugs)

	receiver, err := opts.Receiver(c.MarketCategory)
	if err != nil {
		b.fail("market_category", "invalid market category: %s", c.MarketCategory)
	}

	if len(b.errs) > 0 {
		return &Result{Errors: b.errs, Warnings: b.warnings}
	}

	doc := caseDocument{
		Xmlns:      Namespace,
		ITSVersion: itsVersion,
		Header:     newHeader(identifier{Root: OIDMessageNumber, Extension: opts.MessageID()}, opts, receiver, nil),
		Report:     *report,
	}

	data, err := encode(doc)
	if err != nil {
		return &Result{
			Errors:   model.ValidationErrors{fieldError("document", err.Error())},
			Warnings: b.warnings,
		}
	}

	return &Result{
		Success:  true,
		XML:      data,
		Warnings: b.warnings,
	}
}

// BatchOptions controls the batch envelope
type BatchOptions struct {
	Options
	BatchNumber string
	BatchType   types.BatchType
}

// CaseResult is the outcome of building one batch member
type CaseResult struct {
	CaseID         model.CaseID
	SafetyReportID string
	Success        bool
	Errors         model.ValidationErrors
	Warnings       model.ValidationErrors
}

// BatchResult of generating a batch envelope. Member failures are reported per case and do not
// fail the envelope; Errors holds envelope-level failures only.
type BatchResult struct {
	Success bool
	XML     []byte
	Cases   []CaseResult
	Errors  model.ValidationErrors
}

// ValidCount returns the number of members included in the envelope
func (r *BatchResult) ValidCount() int {
	n := 0
	for _, c := range r.Cases {
		if c.Success {
			n++
		}
	}
	return n
}

// InvalidCount returns the number of members left out of the envelope
func (r *BatchResult) InvalidCount() int {
	return len(r.Cases) - r.ValidCount()
}

// GenerateBatch builds one MCCI_IN200100UV01 envelope with a shared header and one body per
// valid case.
func GenerateBatch(inputs []*model.Case, opts BatchOptions) *BatchResult {
	base := opts.Options.withDefaults()
	result := &BatchResult{}

	if len(inputs) == 0 {
		result.Errors = append(result.Errors, fieldError("cases", "batch has no cases"))
		return result
	}

	var batchType *code
	if opts.BatchType != "" {
		b := &builder{}
		batchType = b.lookup("batch_type", types.BatchTypeCodes, string(opts.BatchType), CodeSystemBatchType)
		result.Errors = append(result.Errors, b.errs...)
	}

	var category types.MarketCategory
	categorySet := false
	var bodies []caseDocument
	for i, c := range inputs {
		if c == nil {
			result.Cases = append(result.Cases, CaseResult{
				Errors: model.ValidationErrors{fieldError(fmt.Sprintf("cases[%d]", i), "case is required")},
			})
			continue
		}

		b := &builder{}
		report := b.safetyReport(c, c.Reporters, c.Reactions, c.Drugs)
		cr := CaseResult{
			CaseID:         c.ID,
			SafetyReportID: c.SafetyReportID,
			Success:        len(b.errs) == 0,
			Errors:         b.errs,
			Warnings:       b.warnings,
		}
		result.Cases = append(result.Cases, cr)

		if !cr.Success {
			continue
		}

		// the receiver is chosen from members included in the envelope
		if !categorySet {
			category, categorySet = c.MarketCategory.Normalize(), true
		} else if c.MarketCategory.Normalize() != category {
			result.Errors = append(result.Errors, fieldError("market_category",
				fmt.Sprintf("cases with different market categories cannot share a batch: %s and %s",
					category, c.MarketCategory.Normalize())))
		}

		bodies = append(bodies, caseDocument{
			ID:     &identifier{Root: OIDMessageNumber, Extension: base.MessageID()},
			Report: *report,
		})
	}

	if len(bodies) == 0 {
		result.Errors = append(result.Errors, fieldError("cases", "batch has no valid case"))
		return result
	}

	receiver, err := base.Receiver(category)
	if err != nil {
		result.Errors = append(result.Errors, fieldError("market_category", "invalid market category: "+string(category)))
	}
	if len(result.Errors) > 0 {
		return result
	}

	batchNumber := opts.BatchNumber
	if batchNumber == "" {
		batchNumber = base.MessageID()
	}

	doc := batchDocument{
		Xmlns:      Namespace,
		ITSVersion: itsVersion,
		Header:     *newHeader(identifier{Root: OIDBatchNumber, Extension: batchNumber}, base, receiver, batchType),
		Bodies:     bodies,
	}

	data, err := encode(doc)
	if err != nil {
		result.Errors = append(result.Errors, fieldError("document", err.Error()))
		return result
	}

	result.Success = true
	result.XML = data
	return result
}

func newHeader(id identifier, opts Options, receiver string, batchType *code) *messageHeader {
	return &messageHeader{
		ID:           id,
		CreationTime: value{Value: opts.Now().UTC().Format(timestampLayout)},
		BatchType:    batchType,
		Receiver:     party{Device: device{ID: identifier{Root: OIDMessageReceiver, Extension: receiver}}},
		Sender:       party{Device: device{ID: identifier{Root: OIDMessageSender, Extension: opts.SenderID}}},
	}
}

func encode(doc any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)

	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, goerr.Wrap(err, "failed to encode document")
	}
	if err := enc.Close(); err != nil {
		return nil, goerr.Wrap(err, "failed to flush document")
	}
	buf.WriteString("\n")
	return buf.Bytes(), nil
}

func fieldError(field, msg string) model.ValidationError {
	return model.ValidationError{Field: field, Message: msg, Severity: types.SeverityError}
}

// builder converts case data into document nodes and collects field-attributed failures
type builder struct {
	errs     model.ValidationErrors
	warnings model.ValidationErrors
}

func (b *builder) fail(field, format string, args ...any) {
	b.errs = append(b.errs, fieldError(field, fmt.Sprintf(format, args...)))
}

func (b *builder) warn(field, format string, args ...any) {
	b.warnings = append(b.warnings, model.ValidationError{
		Field:    field,
		Message:  fmt.Sprintf(format, args...),
		Severity: types.SeverityWarning,
	})
}

// date converts an optional ISO date to its compact form. Empty input yields nil.
func (b *builder) date(field, v string) *value {
	if v == "" {
		return nil
	}
	d, err := types.ParsePartialDate(v)
	if err != nil {
		b.fail(field, "invalid date: %s", v)
		return nil
	}
	return &value{Value: d.Compact()}
}

// lookup maps an optional business value through table. Empty input yields nil. Unmapped
// values fail unless the table has a fallback, which is reported as a warning.
func (b *builder) lookup(field string, table *types.CodeTable, v, system string) *code {
	if v == "" {
		return nil
	}
	c, ok := table.Lookup(v)
	if !ok {
		b.fail(field, "no %s code for %q", table.Name(), v)
		return nil
	}
	if !table.Has(v) {
		b.warn(field, "%s %q is not mapped, reported as %s", table.Name(), v, c)
	}
	return &code{Code: c, CodeSystem: system, DisplayName: v}
}

// checkText fails every free-text field the encoder could not carry unchanged. encoding/xml
// replaces such characters with U+FFFD instead of failing.
func (b *builder) checkText(fields []model.TextField) {
	for _, f := range fields {
		if err := types.CheckXMLText(f.Value); err != nil {
			b.fail(f.Field, "%s", err.Error())
		}
	}
}

func (b *builder) safetyReport(c *model.Case, reporters []model.Reporter, reactions []model.Reaction, drugs []model.Drug) *safetyReport {
	b.checkText(model.TextFields(c, reporters, reactions, drugs))

	if len(reactions) == 0 {
		b.fail("reactions", "at least one reaction is required")
	}
	if len(drugs) == 0 {
		b.fail("drugs", "at least one drug is required")
	} else {
		suspect := false
		for _, d := range drugs {
			if d.Characterization == types.DrugCharacterizationSuspect {
				suspect = true
				break
			}
		}
		if !suspect {
			b.fail("drugs", "at least one suspect drug is required")
		}
	}
	if strings.TrimSpace(c.Narrative) == "" {
		b.fail("narrative", "narrative is required")
	}
	if strings.TrimSpace(c.SafetyReportID) == "" {
		b.fail("safety_report_id", "safety report id is required")
	}
	if c.ReceiptDate == "" {
		b.fail("receipt_date", "receipt date is required")
	}

	report := &safetyReport{
		IDs:                   []identifier{{Root: OIDSafetyReportID, Extension: c.SafetyReportID}},
		MostRecentReceiptDate: b.date("most_recent_receipt_date", c.MostRecentReceiptDate),
		VersionNumber:         value{Value: strconv.Itoa(max(c.Version, 1))},
		Serious:               value{Value: strconv.FormatBool(c.Serious)},
		Sender:                b.sender(c.Sender),
		Patient:               b.patient(c.Patient),
		Narrative:             c.Narrative,
		ReporterComments:      c.ReporterComments,
		SenderComments:        c.SenderComments,
	}
	if c.WorldwideUniqueID != "" {
		report.IDs = append(report.IDs, identifier{Root: OIDWorldwideUniqueID, Extension: c.WorldwideUniqueID})
	}
	if c.ID != "" {
		report.IDs = append(report.IDs, identifier{Root: OIDSenderCaseID, Extension: string(c.ID)})
	}

	if rt := b.lookup("report_type", types.ReportTypeCodes, string(c.ReportType), CodeSystemReportType); rt != nil {
		report.ReportType = *rt
	} else if c.ReportType == "" {
		b.fail("report_type", "report type is required")
	}
	if mc := b.lookup("market_category", types.MarketCategoryCodes, string(c.MarketCategory.Normalize()), CodeSystemMarketCategory); mc != nil {
		report.MarketCategory = *mc
	}
	if ft := b.lookup("followup_type", types.FollowupTypeCodes, string(c.FollowupType.Normalize()), CodeSystemFollowupType); ft != nil {
		report.FollowupType = *ft
	}
	if rd := b.date("receipt_date", c.ReceiptDate); rd != nil {
		report.ReceiptDate = *rd
	}

	if c.IsNullified {
		report.Nullification = &nullification{Reason: c.NullificationReason}
	}
	if c.ParentCaseID != "" {
		report.RelatedReport = &relatedReport{ID: identifier{Root: OIDSenderCaseID, Extension: string(c.ParentCaseID)}}
	}

	if criteria := c.SeriousnessCriteria(); len(criteria) > 0 {
		set := &criteriaSet{}
		for _, criterion := range criteria {
			if cd := b.lookup("seriousness", types.SeriousnessCodes, string(criterion), CodeSystemSeriousness); cd != nil {
				set.Criteria = append(set.Criteria, *cd)
			}
		}
		report.SeriousnessCriteria = set
	}

	for i, r := range reporters {
		report.PrimarySources = append(report.PrimarySources, b.primarySource(fmt.Sprintf("reporters[%d]", i), r))
	}
	for i, r := range reactions {
		report.Reactions = append(report.Reactions, b.reaction(fmt.Sprintf("reactions[%d]", i), r))
	}
	for i, d := range drugs {
		report.Drugs = append(report.Drugs, b.drug(fmt.Sprintf("drugs[%d]", i), d))
	}

	return report
}

func (b *builder) primarySource(field string, r model.Reporter) primarySource {
	return primarySource{
		Primary:       r.IsPrimary,
		ID:            r.ID,
		GivenName:     r.GivenName,
		FamilyName:    r.FamilyName,
		Organization:  r.Organization,
		Qualification: b.lookup(field+".qualification", types.ReporterQualification, r.Qualification, CodeSystemQualification),
		Country:       strings.ToUpper(r.Country),
		Email:         r.Email,
	}
}

func (b *builder) sender(s model.Sender) senderInfo {
	info := senderInfo{
		Organization: s.Organization,
		Department:   s.Department,
		GivenName:    s.GivenName,
		FamilyName:   s.FamilyName,
		Email:        s.Email,
		Country:      strings.ToUpper(s.Country),
	}
	if st := b.lookup("sender.type", types.SenderTypeCodes, string(s.Type), CodeSystemSenderType); st != nil {
		info.Type = *st
	} else if s.Type == "" {
		b.fail("sender.type", "sender type is required")
	}
	return info
}

func (b *builder) patient(p model.Patient) patient {
	out := patient{
		Initials:       p.Initials,
		BirthTime:      b.date("patient.birth_date", p.BirthDate),
		Sex:            b.lookup("patient.sex", types.Sex, p.Sex, CodeSystemSex),
		BodyWeight:     newQuantity(p.WeightKg, "kg"),
		Height:         newQuantity(p.HeightCm, "cm"),
		MedicalHistory: p.MedicalHistory,
	}
	if p.Age != nil {
		unit, ok := types.AgeUnit.Lookup(p.AgeUnit)
		if !ok {
			b.fail("patient.age_unit", "no %s code for %q", types.AgeUnit.Name(), p.AgeUnit)
		}
		out.Age = newQuantity(p.Age, unit)
	}
	return out
}

func (b *builder) reaction(field string, r model.Reaction) reaction {
	out := reaction{
		ID:           r.ID,
		ReportedTerm: r.ReportedTerm,
		StartDate:    b.date(field+".start_date", r.StartDate),
		EndDate:      b.date(field+".end_date", r.EndDate),
		Outcome:      b.lookup(field+".outcome", types.ReactionOutcome, r.Outcome, CodeSystemOutcome),
	}
	if r.MedDRACode != "" {
		out.MedDRA = &code{Code: r.MedDRACode, CodeSystem: CodeSystemMedDRA, CodeSystemVersion: r.MedDRAVersion}
	}
	return out
}

func (b *builder) drug(field string, d model.Drug) drug {
	out := drug{
		ID:          d.ID,
		ProductName: d.ProductName,
		LotNumber:   d.LotNumber,
		Indication:  d.Indication,
		StartDate:   b.date(field+".start_date", d.StartDate),
		EndDate:     b.date(field+".end_date", d.EndDate),
		Route:       b.lookup(field+".route", types.RouteOfAdministration, d.Route, CodeSystemRoute),
		ActionTaken: b.lookup(field+".action_taken", types.ActionTaken, d.ActionTaken, CodeSystemAction),
	}

	if ch := b.lookup(field+".characterization", types.CharacterizationCodes, string(d.Characterization), CodeSystemCharacterization); ch != nil {
		out.Characterization = *ch
	} else if d.Characterization == "" {
		b.fail(field+".characterization", "drug characterization is required")
	}

	for _, s := range d.Substances {
		out.Substances = append(out.Substances, substance{
			Name:     s.Name,
			Strength: newQuantity(s.Strength, s.StrengthUnit),
		})
	}
	for j, ds := range d.Dosages {
		dosageField := fmt.Sprintf("%s.dosages[%d]", field, j)
		out.Dosages = append(out.Dosages, dosage{
			Dose:      newQuantity(ds.Value, ds.Unit),
			Frequency: ds.Frequency,
			StartDate: b.date(dosageField+".start_date", ds.StartDate),
			EndDate:   b.date(dosageField+".end_date", ds.EndDate),
			Text:      ds.Text,
		})
	}
	return out
}

func newQuantity(v *float64, unit string) *quantity {
	if v == nil {
		return nil
	}
	return &quantity{Value: strconv.FormatFloat(*v, 'f', -1, 64), Unit: unit}
}
