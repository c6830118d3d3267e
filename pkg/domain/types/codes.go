package types

import "strings"

// CodeTable maps business values entered on a case to wire-format codes. A table may define
// an explicit fallback code; tables without one reject unmapped values.
type CodeTable struct {
	name     string
	entries  map[string]string
	fallback string
}

func newCodeTable(name string, entries map[string]string, fallback string) *CodeTable {
	return &CodeTable{name: name, entries: entries, fallback: fallback}
}

// Name returns the table name used in error messages
func (t *CodeTable) Name() string {
	return t.name
}

// Lookup returns the code for value. Values are matched case-insensitively after trimming.
// When the value is unmapped the fallback is returned if the table defines one.
func (t *CodeTable) Lookup(value string) (string, bool) {
	if code, ok := t.entries[normalizeCodeKey(value)]; ok {
		return code, true
	}
	if t.fallback != "" {
		return t.fallback, true
	}
	return "", false
}

// Has reports whether value is mapped explicitly, ignoring any fallback
func (t *CodeTable) Has(value string) bool {
	_, ok := t.entries[normalizeCodeKey(value)]
	return ok
}

// Decode returns the business value mapped to code. When several values share a code the
// lexically smallest one is returned so that decoding is deterministic.
func (t *CodeTable) Decode(code string) (string, bool) {
	var found string
	for value, c := range t.entries {
		if c == code && (found == "" || value < found) {
			found = value
		}
	}
	return found, found != ""
}

// Fallback returns the fallback code, or empty when the table has none
func (t *CodeTable) Fallback() string {
	return t.fallback
}

func normalizeCodeKey(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// RouteOfAdministration uses "050" (other) for routes that are not listed.
var RouteOfAdministration = newCodeTable("route of administration", map[string]string{
	"auricular":         "001",
	"buccal":            "002",
	"cutaneous":         "003",
	"epidural":          "008",
	"intra_articular":   "014",
	"intradermal":       "023",
	"intramuscular":     "030",
	"intrathecal":       "037",
	"intravenous_bolus": "040",
	"intravenous_drip":  "041",
	"intravenous":       "042",
	"nasal":             "045",
	"ophthalmic":        "047",
	"oral":              "048",
	"other":             "050",
	"parenteral":        "051",
	"rectal":            "054",
	"inhalation":        "055",
	"subcutaneous":      "058",
	"sublingual":        "060",
	"topical":           "061",
	"transdermal":       "062",
	"unknown":           "065",
	"vaginal":           "067",
}, "050")

var ActionTaken = newCodeTable("action taken with drug", map[string]string{
	"unknown":          "0",
	"withdrawn":        "1",
	"dose_reduced":     "2",
	"dose_increased":   "3",
	"dose_not_changed": "4",
	"not_applicable":   "9",
}, "")

var ReactionOutcome = newCodeTable("reaction outcome", map[string]string{
	"unknown":                 "0",
	"recovered":               "1",
	"recovering":              "2",
	"not_recovered":           "3",
	"recovered_with_sequelae": "4",
	"fatal":                   "5",
}, "")

var ReporterQualification = newCodeTable("reporter qualification", map[string]string{
	"physician":                 "1",
	"pharmacist":                "2",
	"other_health_professional": "3",
	"lawyer":                    "4",
	"consumer":                  "5",
}, "")

var Sex = newCodeTable("patient sex", map[string]string{
	"male":   "1",
	"female": "2",
}, "")

var AgeUnit = newCodeTable("age unit", map[string]string{
	"decade": "{decade}",
	"year":   "a",
	"month":  "mo",
	"week":   "wk",
	"day":    "d",
	"hour":   "h",
}, "")

var ReportTypeCodes = newCodeTable("report type", map[string]string{
	string(ReportTypeSpontaneous):  "1",
	string(ReportTypeStudy):        "2",
	string(ReportTypeOther):        "3",
	string(ReportTypeNotAvailable): "4",
}, "")

var CharacterizationCodes = newCodeTable("drug characterization", map[string]string{
	string(DrugCharacterizationSuspect):     "1",
	string(DrugCharacterizationConcomitant): "2",
	string(DrugCharacterizationInteracting): "3",
}, "")

var SenderTypeCodes = newCodeTable("sender type", map[string]string{
	string(SenderTypePharmaceuticalCompany): "1",
	string(SenderTypeRegulatoryAuthority):   "2",
	string(SenderTypeHealthProfessional):    "3",
	string(SenderTypeRegionalCenter):        "4",
	string(SenderTypeWHOCenter):             "5",
	string(SenderTypeOther):                 "6",
	string(SenderTypePatient):               "7",
}, "")

var SeriousnessCodes = newCodeTable("seriousness criterion", map[string]string{
	string(SeriousnessResultsInDeath):          "34",
	string(SeriousnessLifeThreatening):         "21",
	string(SeriousnessHospitalization):         "33",
	string(SeriousnessDisabling):               "35",
	string(SeriousnessCongenitalAnomaly):       "12",
	string(SeriousnessOtherMedicallyImportant): "26",
}, "")

var BatchTypeCodes = newCodeTable("batch type", map[string]string{
	string(BatchTypeExpedited):    "1",
	string(BatchTypeNonExpedited): "2",
	string(BatchTypePeriodic):     "3",
	string(BatchTypeFollowup):     "4",
}, "")

var FollowupTypeCodes = newCodeTable("followup type", map[string]string{
	string(FollowupTypeInitial):       "1",
	string(FollowupTypeFollowUp):      "2",
	string(FollowupTypeNullification): "3",
}, "")

var MarketCategoryCodes = newCodeTable("market category", map[string]string{
	string(MarketCategoryPostmarket): "1",
	string(MarketCategoryPremarket):  "2",
}, "")
