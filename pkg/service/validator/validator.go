package validator

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/secmon-lab/icsrlink/pkg/domain/model"
	"github.com/secmon-lab/icsrlink/pkg/domain/types"
)

const (
	MaxNarrativeLength   = 100000
	MinNarrativeLength   = 20
	maxPlausibleAgeYears = 150
	maxPlausibleWeightKg = 500
	maxPlausibleHeightCm = 300
)

var (
	countryCodePattern = regexp.MustCompile(`^[A-Za-z]{2}$`)
	meddraCodePattern  = regexp.MustCompile(`^[0-9]{8}$`)
)

// Validator checks a case against the business rules required before XML generation.
// Validate has no side effects and is safe for concurrent use.
type Validator struct {
	now func() time.Time
}

type Option func(*Validator)

// WithNow sets the clock used for future-date checks
func WithNow(now func() time.Time) Option {
	return func(v *Validator) {
		v.now = now
	}
}

func New(opts ...Option) *Validator {
	v := &Validator{
		now: time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

var defaultValidator = New()

// Validate runs the default validator
func Validate(c *model.Case) *model.ValidationResult {
	return defaultValidator.Validate(c)
}

// Validate runs every rule group and concatenates the findings. Groups never short-circuit
// each other.
func (v *Validator) Validate(c *model.Case) *model.ValidationResult {
	if c == nil {
		return model.NewValidationResult(model.ValidationErrors{{
			Field: "case", Message: "case is required", Severity: types.SeverityError,
		}})
	}

	r := &report{}
	v.checkMetadata(r, c)
	checkReporters(r, c.Reporters)
	checkSender(r, c.Sender)
	checkPatient(r, c.Patient)
	checkReactions(r, c.Reactions)
	checkDrugs(r, c.Drugs)
	checkNarrative(r, c.Narrative)
	checkText(r, c)
	checkCrossField(r, c)

	return model.NewValidationResult(r.errs)
}

type report struct {
	errs model.ValidationErrors
}

func (r *report) error(field, format string, args ...any) {
	r.errs = append(r.errs, model.ValidationError{
		Field:    field,
		Message:  fmt.Sprintf(format, args...),
		Severity: types.SeverityError,
	})
}

func (r *report) warn(field, format string, args ...any) {
	r.errs = append(r.errs, model.ValidationError{
		Field:    field,
		Message:  fmt.Sprintf(format, args...),
		Severity: types.SeverityWarning,
	})
}

// date parses an optional date and reports malformed values. ok is false when the value is
// empty or malformed.
func (r *report) date(field, value string) (types.PartialDate, bool) {
	if value == "" {
		return types.PartialDate{}, false
	}
	d, err := types.ParsePartialDate(value)
	if err != nil {
		r.error(field, "%s is not a valid date (expected YYYY, YYYY-MM or YYYY-MM-DD)", value)
		return types.PartialDate{}, false
	}
	return d, true
}

func (r *report) dateRange(prefix, start, end string) {
	s, okStart := r.date(prefix+".start_date", start)
	e, okEnd := r.date(prefix+".end_date", end)
	if okStart && okEnd && e.Before(s) {
		r.error(prefix+".end_date", "end date %s is before start date %s", end, start)
	}
}

func (v *Validator) checkMetadata(r *report, c *model.Case) {
	if strings.TrimSpace(c.SafetyReportID) == "" {
		r.error("safety_report_id", "safety report id is required")
	}

	switch {
	case c.ReportType == "":
		r.error("report_type", "report type is required")
	case !c.ReportType.IsValid():
		r.error("report_type", "invalid report type: %s", c.ReportType)
	}

	var receipt types.PartialDate
	hasReceipt := false
	if c.ReceiptDate == "" {
		r.error("receipt_date", "receipt date is required")
	} else if d, ok := r.date("receipt_date", c.ReceiptDate); ok {
		receipt, hasReceipt = d, true
		if d.After(v.now()) {
			r.error("receipt_date", "receipt date %s is in the future", c.ReceiptDate)
		}
	}

	if recent, ok := r.date("most_recent_receipt_date", c.MostRecentReceiptDate); ok {
		if hasReceipt && recent.Before(receipt) {
			r.error("most_recent_receipt_date", "most recent receipt date %s is before receipt date %s",
				c.MostRecentReceiptDate, c.ReceiptDate)
		}
		if recent.After(v.now()) {
			r.error("most_recent_receipt_date", "most recent receipt date %s is in the future", c.MostRecentReceiptDate)
		}
	}

	if !c.MarketCategory.Normalize().IsValid() {
		r.error("market_category", "invalid market category: %s", c.MarketCategory)
	}

	if c.IsNullified && strings.TrimSpace(c.NullificationReason) == "" {
		r.error("nullification_reason", "nullification reason is required for a nullified case")
	}
}

func checkReporters(r *report, reporters []model.Reporter) {
	if len(reporters) == 0 {
		r.error("reporters", "at least one reporter is required")
		return
	}

	primaries := 0
	for i, rep := range reporters {
		field := fmt.Sprintf("reporters[%d]", i)

		switch {
		case rep.Qualification == "":
			r.warn(field+".qualification", "reporter qualification is missing")
		case !types.ReporterQualification.Has(rep.Qualification):
			r.error(field+".qualification", "invalid reporter qualification: %s", rep.Qualification)
		}

		if rep.Country != "" && !countryCodePattern.MatchString(rep.Country) {
			r.error(field+".country", "country must be a two-letter code: %s", rep.Country)
		}
		if rep.IsPrimary {
			primaries++
		}
	}

	switch {
	case primaries > 1:
		r.error("reporters", "only one reporter may be primary, found %d", primaries)
	case primaries == 0:
		r.warn("reporters", "no reporter is marked as primary")
	}
}

func checkSender(r *report, s model.Sender) {
	switch {
	case s.Type == "":
		r.error("sender.type", "sender type is required")
	case !s.Type.IsValid():
		r.error("sender.type", "invalid sender type: %s", s.Type)
	}

	if strings.TrimSpace(s.Organization) == "" {
		r.error("sender.organization", "sender organization is required")
	}

	if s.Email != "" {
		if _, err := mail.ParseAddress(s.Email); err != nil {
			r.warn("sender.email", "sender email is not a valid address: %s", s.Email)
		}
	}

	if s.Country != "" && !countryCodePattern.MatchString(s.Country) {
		r.error("sender.country", "country must be a two-letter code: %s", s.Country)
	}
}

func checkPatient(r *report, p model.Patient) {
	if !p.HasIdentifier() {
		r.error("patient", "at least one patient identifier is required (initials, birth date, age or sex)")
	}

	r.date("patient.birth_date", p.BirthDate)

	if p.Age != nil {
		switch {
		case *p.Age < 0:
			r.error("patient.age", "age must not be negative")
		case p.AgeUnit == "" || !types.AgeUnit.Has(p.AgeUnit):
			r.error("patient.age_unit", "age requires a valid unit")
		case ageInYears(*p.Age, p.AgeUnit) > maxPlausibleAgeYears:
			r.warn("patient.age", "age of %v %s is implausible", *p.Age, p.AgeUnit)
		}
	}

	if p.Sex != "" && !types.Sex.Has(p.Sex) {
		r.error("patient.sex", "invalid sex: %s", p.Sex)
	}

	if p.WeightKg != nil {
		switch {
		case *p.WeightKg <= 0:
			r.error("patient.weight_kg", "weight must be positive")
		case *p.WeightKg > maxPlausibleWeightKg:
			r.warn("patient.weight_kg", "weight of %v kg is implausible", *p.WeightKg)
		}
	}
	if p.HeightCm != nil {
		switch {
		case *p.HeightCm <= 0:
			r.error("patient.height_cm", "height must be positive")
		case *p.HeightCm > maxPlausibleHeightCm:
			r.warn("patient.height_cm", "height of %v cm is implausible", *p.HeightCm)
		}
	}
}

func ageInYears(age float64, unit string) float64 {
	switch strings.ToLower(unit) {
	case "decade":
		return age * 10
	case "month":
		return age / 12
	case "week":
		return age / 52
	case "day":
		return age / 365
	case "hour":
		return age / (365 * 24)
	default:
		return age
	}
}

func checkReactions(r *report, reactions []model.Reaction) {
	if len(reactions) == 0 {
		r.error("reactions", "at least one reaction is required")
		return
	}

	for i, rx := range reactions {
		field := fmt.Sprintf("reactions[%d]", i)

		if strings.TrimSpace(rx.ReportedTerm) == "" && rx.MedDRACode == "" {
			r.error(field, "reaction needs a reported term or a MedDRA code")
		}
		if rx.MedDRACode != "" && !meddraCodePattern.MatchString(rx.MedDRACode) {
			r.warn(field+".meddra_code", "MedDRA code should be 8 digits: %s", rx.MedDRACode)
		}
		if rx.Outcome != "" && !types.ReactionOutcome.Has(rx.Outcome) {
			r.error(field+".outcome", "invalid reaction outcome: %s", rx.Outcome)
		}
		r.dateRange(field, rx.StartDate, rx.EndDate)
	}
}

func checkDrugs(r *report, drugs []model.Drug) {
	if len(drugs) == 0 {
		r.error("drugs", "at least one drug is required")
		return
	}

	suspects := 0
	for i, d := range drugs {
		field := fmt.Sprintf("drugs[%d]", i)

		if strings.TrimSpace(d.ProductName) == "" {
			r.error(field+".product_name", "product name is required")
		}

		switch {
		case d.Characterization == "":
			r.error(field+".characterization", "drug characterization is required")
		case !d.Characterization.IsValid():
			r.error(field+".characterization", "invalid drug characterization: %s", d.Characterization)
		case d.Characterization == types.DrugCharacterizationSuspect:
			suspects++
		}

		if d.Route != "" && !types.RouteOfAdministration.Has(d.Route) {
			r.warn(field+".route", "route %q is not recognized and will be reported as other", d.Route)
		}
		if d.ActionTaken != "" && !types.ActionTaken.Has(d.ActionTaken) {
			r.error(field+".action_taken", "invalid action taken: %s", d.ActionTaken)
		}

		for j, s := range d.Substances {
			if s.Strength != nil && *s.Strength <= 0 {
				r.error(fmt.Sprintf("%s.substances[%d].strength", field, j), "strength must be positive")
			}
		}
		for j, ds := range d.Dosages {
			dosageField := fmt.Sprintf("%s.dosages[%d]", field, j)
			if ds.Value != nil && *ds.Value <= 0 {
				r.error(dosageField+".value", "dose must be positive")
			}
			r.dateRange(dosageField, ds.StartDate, ds.EndDate)
		}

		r.dateRange(field, d.StartDate, d.EndDate)
	}

	if suspects == 0 {
		r.error("drugs", "at least one suspect drug is required")
	}
}

func checkNarrative(r *report, narrative string) {
	n := utf8.RuneCountInString(strings.TrimSpace(narrative))
	switch {
	case n == 0:
		r.error("narrative", "narrative is required")
	case n > MaxNarrativeLength:
		r.error("narrative", "narrative exceeds %d characters", MaxNarrativeLength)
	case n < MinNarrativeLength:
		r.warn("narrative", "narrative is shorter than %d characters", MinNarrativeLength)
	}
}

// checkText rejects text the wire document cannot carry unchanged
func checkText(r *report, c *model.Case) {
	for _, f := range model.TextFields(c, c.Reporters, c.Reactions, c.Drugs) {
		if err := types.CheckXMLText(f.Value); err != nil {
			r.error(f.Field, "contains characters that cannot be transmitted: %s", err.Error())
		}
	}
}

func checkCrossField(r *report, c *model.Case) {
	criteria := c.SeriousnessCriteria()
	switch {
	case c.Serious && len(criteria) == 0:
		r.error("serious", "a serious case needs at least one seriousness criterion")
	case !c.Serious && len(criteria) > 0:
		r.error("serious", "seriousness criteria are set but the case is not marked serious")
	}

	fatal := false
	for _, rx := range c.Reactions {
		if strings.EqualFold(rx.Outcome, "fatal") {
			fatal = true
			break
		}
	}
	if c.ResultsInDeath && !fatal {
		r.warn("results_in_death", "death is a seriousness criterion but no reaction has a fatal outcome")
	}
	if fatal && !c.ResultsInDeath {
		r.warn("results_in_death", "a reaction is fatal but death is not a seriousness criterion")
	}

	if c.Patient.BirthDate == "" {
		return
	}
	birth, err := types.ParsePartialDate(c.Patient.BirthDate)
	if err != nil {
		return
	}
	for i, rx := range c.Reactions {
		if rx.StartDate == "" {
			continue
		}
		start, err := types.ParsePartialDate(rx.StartDate)
		if err != nil {
			continue
		}
		if start.Before(birth) {
			r.error(fmt.Sprintf("reactions[%d].start_date", i), "reaction start %s is before patient birth date %s",
				rx.StartDate, c.Patient.BirthDate)
		}
	}
}
