package model

import "fmt"

// TextField is one free-text value of a case with its field path
type TextField struct {
	Field string
	Value string
}

// TextFields lists every free-text value that is written verbatim into the wire document,
// including identifiers carried in attributes. Empty values are skipped.
func TextFields(c *Case, reporters []Reporter, reactions []Reaction, drugs []Drug) []TextField {
	var fields []TextField
	add := func(field, v string) {
		if v != "" {
			fields = append(fields, TextField{Field: field, Value: v})
		}
	}

	add("safety_report_id", c.SafetyReportID)
	add("worldwide_unique_id", c.WorldwideUniqueID)
	add("nullification_reason", c.NullificationReason)
	add("narrative", c.Narrative)
	add("reporter_comments", c.ReporterComments)
	add("sender_comments", c.SenderComments)

	add("sender.organization", c.Sender.Organization)
	add("sender.department", c.Sender.Department)
	add("sender.given_name", c.Sender.GivenName)
	add("sender.family_name", c.Sender.FamilyName)
	add("sender.email", c.Sender.Email)
	add("sender.country", c.Sender.Country)

	add("patient.initials", c.Patient.Initials)
	add("patient.medical_history", c.Patient.MedicalHistory)

	for i, r := range reporters {
		p := fmt.Sprintf("reporters[%d]", i)
		add(p+".id", r.ID)
		add(p+".given_name", r.GivenName)
		add(p+".family_name", r.FamilyName)
		add(p+".organization", r.Organization)
		add(p+".email", r.Email)
		add(p+".country", r.Country)
	}
	for i, r := range reactions {
		p := fmt.Sprintf("reactions[%d]", i)
		add(p+".id", r.ID)
		add(p+".reported_term", r.ReportedTerm)
		add(p+".meddra_code", r.MedDRACode)
		add(p+".meddra_version", r.MedDRAVersion)
	}
	for i, d := range drugs {
		p := fmt.Sprintf("drugs[%d]", i)
		add(p+".id", d.ID)
		add(p+".product_name", d.ProductName)
		add(p+".lot_number", d.LotNumber)
		add(p+".indication", d.Indication)
		for j, s := range d.Substances {
			add(fmt.Sprintf("%s.substances[%d].name", p, j), s.Name)
			add(fmt.Sprintf("%s.substances[%d].strength_unit", p, j), s.StrengthUnit)
		}
		for j, ds := range d.Dosages {
			add(fmt.Sprintf("%s.dosages[%d].unit", p, j), ds.Unit)
			add(fmt.Sprintf("%s.dosages[%d].frequency", p, j), ds.Frequency)
			add(fmt.Sprintf("%s.dosages[%d].text", p, j), ds.Text)
		}
	}
	return fields
}
