package icsr_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/icsrlink/pkg/domain/model"
	"github.com/secmon-lab/icsrlink/pkg/domain/types"
	"github.com/secmon-lab/icsrlink/pkg/service/icsr"
	"github.com/secmon-lab/icsrlink/pkg/utils/testutil"
)

func fixedOptions() icsr.Options {
	n := 0
	return icsr.Options{
		SenderID: "ACME",
		MessageID: func() string {
			n++
			return "msg-" + strings.Repeat("x", n)
		},
		Now: func() time.Time { return time.Date(2024, 3, 6, 9, 30, 15, 0, time.UTC) },
	}
}

func hasField(errs model.ValidationErrors, field string) bool {
	for _, e := range errs {
		if e.Field == field {
			return true
		}
	}
	return false
}

func TestGenerate_RoundTrip(t *testing.T) {
	c := testutil.NewCase(func(c *model.Case) {
		c.ID = "case-1"
		c.WorldwideUniqueID = "US-ACME-WW-1"
		c.Version = 2
		c.ParentCaseID = "case-0"
		c.FollowupType = types.FollowupTypeFollowUp
		c.Patient.BirthDate = "1970-05"
		c.Reactions[0].EndDate = "2024-03"
		c.Reactions[0].MedDRAVersion = "26.1"
		c.Drugs = append(c.Drugs, model.Drug{
			Characterization: types.DrugCharacterizationConcomitant,
			ProductName:      "Aspirin",
			Route:            "intraosseous",
		})
		c.ApplyDefaults()
	})

	result := icsr.GenerateCase(c, fixedOptions())
	gt.B(t, result.Success).Required().True()
	gt.A(t, result.Errors).Length(0)

	doc, err := icsr.Parse(result.XML)
	gt.NoError(t, err).Required()

	gt.V(t, doc.SenderID).Equal("ACME")
	gt.V(t, doc.ReceiverID).Equal(icsr.DefaultPostmarketReceiver)
	gt.V(t, doc.MessageID).Equal("msg-x")
	gt.V(t, doc.CreationTime).Equal(time.Date(2024, 3, 6, 9, 30, 15, 0, time.UTC))

	got := doc.Case
	gt.V(t, got.ID).Equal(c.ID)
	gt.V(t, got.SafetyReportID).Equal(c.SafetyReportID)
	gt.V(t, got.WorldwideUniqueID).Equal(c.WorldwideUniqueID)
	gt.V(t, got.Version).Equal(2)
	gt.V(t, got.ParentCaseID).Equal(c.ParentCaseID)
	gt.V(t, got.FollowupType).Equal(types.FollowupTypeFollowUp)
	gt.V(t, got.ReportType).Equal(c.ReportType)
	gt.V(t, got.MarketCategory).Equal(types.MarketCategoryPostmarket)
	gt.V(t, got.ReceiptDate).Equal(c.ReceiptDate)
	gt.V(t, got.MostRecentReceiptDate).Equal(c.MostRecentReceiptDate)
	gt.V(t, got.SeriousnessCriteria()).Equal(c.SeriousnessCriteria())
	gt.B(t, got.Serious).True()
	gt.V(t, got.Narrative).Equal(c.Narrative)
	gt.V(t, got.Patient).Equal(c.Patient)
	gt.V(t, got.Sender).Equal(c.Sender)
	gt.V(t, got.Reporters).Equal(c.Reporters)
	gt.V(t, got.Reactions).Equal(c.Reactions)
	gt.V(t, got.Drugs).Equal(c.Drugs)
	gt.B(t, got.IsNullified).False()
}

func TestGenerate_AbsentFieldsStayAbsent(t *testing.T) {
	c := testutil.NewCase(func(c *model.Case) {
		c.MostRecentReceiptDate = ""
		c.Patient.WeightKg = nil
		c.Serious = false
		c.Hospitalization = false
		c.Drugs[0].Route = ""
	})

	result := icsr.GenerateCase(c, fixedOptions())
	gt.B(t, result.Success).Required().True()

	xml := string(result.XML)
	gt.B(t, strings.Contains(xml, "mostRecentReceiptDate")).False()
	gt.B(t, strings.Contains(xml, "bodyWeight")).False()
	gt.B(t, strings.Contains(xml, "seriousnessCriteria")).False()
	gt.B(t, strings.Contains(xml, "routeOfAdministration")).False()
	gt.B(t, strings.Contains(xml, "nullification")).False()

	doc, err := icsr.Parse(result.XML)
	gt.NoError(t, err).Required()
	gt.V(t, doc.Case.MostRecentReceiptDate).Equal("")
	gt.V(t, doc.Case.Patient.WeightKg).Nil()
	gt.A(t, doc.Case.SeriousnessCriteria()).Length(0)
}

func TestGenerate_Escaping(t *testing.T) {
	tests := []struct {
		name      string
		narrative string
		contains  string
	}{
		{"ampersand", "rash & fever observed over three days", "rash &amp; fever"},
		{"angle brackets", "dose <5mg> was given for a week or so", "dose &lt;5mg&gt; was"},
		{"quotes", `patient said "itchy" and 'hot' all week long`, "said &#34;itchy&#34; and &#39;hot&#39;"},
		{"already escaped text is escaped once more", "literal &amp; entity kept verbatim here", "literal &amp;amp; entity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testutil.NewCase(func(c *model.Case) { c.Narrative = tt.narrative })
			result := icsr.GenerateCase(c, fixedOptions())
			gt.B(t, result.Success).Required().True()
			gt.S(t, string(result.XML)).Contains(tt.contains)

			doc, err := icsr.Parse(result.XML)
			gt.NoError(t, err).Required()
			gt.V(t, doc.Case.Narrative).Equal(tt.narrative)

			// generating again from the decoded text yields the same bytes
			again := icsr.GenerateCase(testutil.NewCase(func(c *model.Case) {
				c.SafetyReportID = doc.Case.SafetyReportID
				c.Narrative = doc.Case.Narrative
			}), fixedOptions())
			gt.B(t, again.Success).Required().True()
			gt.B(t, bytes.Contains(again.XML, []byte(tt.contains))).True()
		})
	}
}

func TestGenerate_RejectsUnencodableText(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *model.Case)
		field  string
	}{
		{
			name:   "control character in narrative",
			mutate: func(c *model.Case) { c.Narrative = "Patient\x01 had a severe rash after the first dose." },
			field:  "narrative",
		},
		{
			name:   "invalid UTF-8 in narrative",
			mutate: func(c *model.Case) { c.Narrative = "Patient had a severe rash \xff\xfe after the first dose." },
			field:  "narrative",
		},
		{
			name:   "control character in reaction term",
			mutate: func(c *model.Case) { c.Reactions[0].ReportedTerm = "rash\x1b[0m" },
			field:  "reactions[0].reported_term",
		},
		{
			name:   "invalid UTF-8 in safety report id",
			mutate: func(c *model.Case) { c.SafetyReportID = "US-\xc3" },
			field:  "safety_report_id",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := icsr.GenerateCase(testutil.NewCase(tt.mutate), fixedOptions())
			gt.B(t, result.Success).False()
			gt.A(t, result.XML).Length(0)
			gt.B(t, hasField(result.Errors, tt.field)).True()
		})
	}

	t.Run("batch member is excluded", func(t *testing.T) {
		bad := testutil.NewCase(func(c *model.Case) {
			c.ID = "bad"
			c.Narrative = "Patient\x01 had a severe rash after the first dose."
		})
		good := testutil.NewCase(func(c *model.Case) { c.ID = "good" })

		result := icsr.GenerateBatch([]*model.Case{good, bad}, icsr.BatchOptions{Options: fixedOptions()})
		gt.B(t, result.Success).Required().True()
		gt.V(t, result.ValidCount()).Equal(1)
		gt.B(t, result.Cases[1].Success).False()
		gt.B(t, hasField(result.Cases[1].Errors, "narrative")).True()
	})
}

func TestGenerate_SeriousnessOrder(t *testing.T) {
	orders := [][]types.SeriousnessCriterion{
		{types.SeriousnessOtherMedicallyImportant, types.SeriousnessResultsInDeath, types.SeriousnessDisabling},
		{types.SeriousnessDisabling, types.SeriousnessOtherMedicallyImportant, types.SeriousnessResultsInDeath},
		{types.SeriousnessResultsInDeath, types.SeriousnessDisabling, types.SeriousnessOtherMedicallyImportant},
	}

	var outputs [][]byte
	for _, order := range orders {
		c := testutil.NewCase(func(c *model.Case) {
			c.SafetyReportID = "US-ACME-1"
			c.Reporters[0].ID = "reporter-1"
			c.Reactions[0].ID = "reaction-1"
			c.Drugs[0].ID = "drug-1"
			c.SetSeriousnessCriteria(order)
			c.Reactions[0].Outcome = "fatal"
		})
		result := icsr.GenerateCase(c, fixedOptions())
		gt.B(t, result.Success).Required().True()
		outputs = append(outputs, result.XML)
	}

	for _, out := range outputs[1:] {
		gt.V(t, string(out)).Equal(string(outputs[0]))
	}

	xml := string(outputs[0])
	death := strings.Index(xml, `displayName="results_in_death"`)
	disabling := strings.Index(xml, `displayName="disabling"`)
	other := strings.Index(xml, `displayName="other_medically_important"`)
	gt.B(t, death >= 0 && death < disabling && disabling < other).True()
}

func TestGenerate_Preconditions(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *model.Case)
		field  string
		msg    string
	}{
		{"no reactions", func(c *model.Case) { c.Reactions = nil }, "reactions", "reaction"},
		{"no drugs", func(c *model.Case) { c.Drugs = nil }, "drugs", "drug"},
		{"no suspect drug", func(c *model.Case) {
			c.Drugs[0].Characterization = types.DrugCharacterizationInteracting
		}, "drugs", "suspect"},
		{"no narrative", func(c *model.Case) { c.Narrative = "" }, "narrative", "narrative"},
		{"unmapped action taken", func(c *model.Case) { c.Drugs[0].ActionTaken = "paused" }, "drugs[0].action_taken", "paused"},
		{"unmapped outcome", func(c *model.Case) { c.Reactions[0].Outcome = "better" }, "reactions[0].outcome", "better"},
		{"malformed date", func(c *model.Case) { c.Reactions[0].StartDate = "yesterday" }, "reactions[0].start_date", "invalid date"},
		{"unknown market category", func(c *model.Case) { c.MarketCategory = "gray" }, "market_category", "gray"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := icsr.GenerateCase(testutil.NewCase(tt.mutate), fixedOptions())
			gt.B(t, result.Success).False()
			gt.A(t, result.XML).Length(0)
			gt.B(t, hasField(result.Errors, tt.field)).
				Describef("expected error on %s, got %v", tt.field, result.Errors).
				True()
			gt.S(t, result.Errors.Summary()).Contains(tt.msg)
		})
	}
}

func TestGenerate_RouteFallback(t *testing.T) {
	c := testutil.NewCase(func(c *model.Case) { c.Drugs[0].Route = "intraosseous" })

	result := icsr.GenerateCase(c, fixedOptions())
	gt.B(t, result.Success).Required().True()
	gt.B(t, hasField(result.Warnings, "drugs[0].route")).True()
	gt.S(t, string(result.XML)).Contains(`code="050"`)
}

func TestGenerate_ReceiverRouting(t *testing.T) {
	t.Run("premarket uses the premarket receiver", func(t *testing.T) {
		c := testutil.NewCase(func(c *model.Case) { c.MarketCategory = types.MarketCategoryPremarket })
		result := icsr.GenerateCase(c, fixedOptions())
		gt.B(t, result.Success).Required().True()

		doc, err := icsr.Parse(result.XML)
		gt.NoError(t, err).Required()
		gt.V(t, doc.ReceiverID).Equal(icsr.DefaultPremarketReceiver)
		gt.V(t, doc.Case.MarketCategory).Equal(types.MarketCategoryPremarket)
	})

	t.Run("receiver override", func(t *testing.T) {
		opts := fixedOptions()
		opts.PostmarketReceiver = "TESTRCV"
		result := icsr.GenerateCase(testutil.NewCase(), opts)
		gt.B(t, result.Success).Required().True()

		doc, err := icsr.Parse(result.XML)
		gt.NoError(t, err).Required()
		gt.V(t, doc.ReceiverID).Equal("TESTRCV")
	})
}

func TestGenerate_Deterministic(t *testing.T) {
	c := testutil.NewCase()
	first := icsr.GenerateCase(c, fixedOptions())
	second := icsr.GenerateCase(c, fixedOptions())
	gt.V(t, string(second.XML)).Equal(string(first.XML))
}

func TestGenerate_UsesGivenChildRecords(t *testing.T) {
	c := testutil.NewCase()
	result := icsr.Generate(c, c.Reporters, nil, c.Drugs, fixedOptions())
	gt.B(t, result.Success).False()
	gt.B(t, hasField(result.Errors, "reactions")).True()
}

func TestGenerateBatch(t *testing.T) {
	t.Run("invalid member is isolated", func(t *testing.T) {
		cases := []*model.Case{
			testutil.NewCase(func(c *model.Case) { c.ID = "a" }),
			testutil.NewCase(func(c *model.Case) { c.ID = "b"; c.Reactions = nil }),
			testutil.NewCase(func(c *model.Case) { c.ID = "c" }),
		}

		result := icsr.GenerateBatch(cases, icsr.BatchOptions{
			Options:     fixedOptions(),
			BatchNumber: "ICSR-20240306-0001",
			BatchType:   types.BatchTypeExpedited,
		})
		gt.B(t, result.Success).Required().True()
		gt.Number(t, result.ValidCount()).Equal(2)
		gt.Number(t, result.InvalidCount()).Equal(1)
		gt.B(t, result.Cases[1].Success).False()
		gt.V(t, result.Cases[1].CaseID).Equal(model.CaseID("b"))

		doc, err := icsr.ParseBatch(result.XML)
		gt.NoError(t, err).Required()
		gt.V(t, doc.BatchNumber).Equal("ICSR-20240306-0001")
		gt.V(t, doc.BatchType).Equal(types.BatchTypeExpedited)
		gt.V(t, doc.SenderID).Equal("ACME")
		gt.A(t, doc.Bodies).Length(2)
		gt.V(t, doc.Bodies[0].Case.ID).Equal(model.CaseID("a"))
		gt.V(t, doc.Bodies[1].Case.ID).Equal(model.CaseID("c"))
		gt.V(t, doc.Bodies[0].MessageID).NotEqual(doc.Bodies[1].MessageID)

		// one shared header
		gt.Number(t, strings.Count(string(result.XML), "<messageHeader>")).Equal(1)
	})

	t.Run("no valid member", func(t *testing.T) {
		cases := []*model.Case{
			testutil.NewCase(func(c *model.Case) { c.Narrative = "" }),
		}
		result := icsr.GenerateBatch(cases, icsr.BatchOptions{Options: fixedOptions()})
		gt.B(t, result.Success).False()
		gt.A(t, result.XML).Length(0)
		gt.Number(t, result.InvalidCount()).Equal(1)
	})

	t.Run("mixed market categories", func(t *testing.T) {
		cases := []*model.Case{
			testutil.NewCase(),
			testutil.NewCase(func(c *model.Case) { c.MarketCategory = types.MarketCategoryPremarket }),
		}
		result := icsr.GenerateBatch(cases, icsr.BatchOptions{Options: fixedOptions()})
		gt.B(t, result.Success).False()
		gt.B(t, hasField(result.Errors, "market_category")).True()
	})

	t.Run("failed member with another market category does not break the envelope", func(t *testing.T) {
		cases := []*model.Case{
			testutil.NewCase(func(c *model.Case) { c.ID = "a" }),
			testutil.NewCase(func(c *model.Case) { c.ID = "b" }),
			testutil.NewCase(func(c *model.Case) {
				c.ID = "c"
				c.MarketCategory = types.MarketCategoryPremarket
				c.Reactions = nil
			}),
		}
		result := icsr.GenerateBatch(cases, icsr.BatchOptions{Options: fixedOptions()})
		gt.B(t, result.Success).Required().True()
		gt.A(t, result.Errors).Length(0)
		gt.Number(t, result.ValidCount()).Equal(2)
		gt.Number(t, result.InvalidCount()).Equal(1)
		gt.S(t, string(result.XML)).Contains(icsr.DefaultPostmarketReceiver)
	})

	t.Run("empty batch", func(t *testing.T) {
		result := icsr.GenerateBatch(nil, icsr.BatchOptions{Options: fixedOptions()})
		gt.B(t, result.Success).False()
	})
}

func TestParse_Malformed(t *testing.T) {
	_, err := icsr.Parse([]byte("<notxml"))
	gt.Error(t, err).Is(icsr.ErrMalformedDocument)

	_, err = icsr.Parse([]byte(`<MCCI_IN200100UV01><messageHeader/></MCCI_IN200100UV01>`))
	gt.Error(t, err).Is(icsr.ErrMalformedDocument)
}
