package types_test

import (
	"testing"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/icsrlink/pkg/domain/types"
)

func TestCodeTable_Lookup(t *testing.T) {
	tests := []struct {
		name   string
		table  *types.CodeTable
		value  string
		want   string
		wantOK bool
	}{
		{"route oral", types.RouteOfAdministration, "oral", "048", true},
		{"route is case insensitive", types.RouteOfAdministration, " Intravenous ", "042", true},
		{"route falls back to other", types.RouteOfAdministration, "intraosseous", "050", true},
		{"action withdrawn", types.ActionTaken, "withdrawn", "1", true},
		{"action unmapped has no fallback", types.ActionTaken, "paused", "", false},
		{"outcome fatal", types.ReactionOutcome, "fatal", "5", true},
		{"outcome unmapped", types.ReactionOutcome, "mostly_fine", "", false},
		{"age unit year", types.AgeUnit, "year", "a", true},
		{"seriousness death", types.SeriousnessCodes, "results_in_death", "34", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.table.Lookup(tt.value)
			gt.Value(t, ok).Equal(tt.wantOK)
			gt.Value(t, got).Equal(tt.want)
		})
	}
}

func TestCodeTable_Has(t *testing.T) {
	gt.B(t, types.RouteOfAdministration.Has("oral")).True()
	gt.B(t, types.RouteOfAdministration.Has("intraosseous")).False()
	gt.S(t, types.RouteOfAdministration.Fallback()).Equal("050")
	gt.S(t, types.ActionTaken.Fallback()).Equal("")
}

func TestErrorCategory_IsRetryable(t *testing.T) {
	retryable := map[types.ErrorCategory]bool{
		types.ErrorCategoryNetwork:     true,
		types.ErrorCategoryRateLimit:   true,
		types.ErrorCategoryServerError: true,
	}
	for _, c := range types.AllErrorCategories() {
		gt.Value(t, c.IsRetryable()).Equal(retryable[c])
		gt.S(t, c.Remediation()).NotEqual("")
	}
}

func TestAllSeriousnessCriteria(t *testing.T) {
	got := types.AllSeriousnessCriteria()
	gt.A(t, got).Length(6)
	gt.V(t, got[0]).Equal(types.SeriousnessResultsInDeath)
	gt.V(t, got[5]).Equal(types.SeriousnessOtherMedicallyImportant)
}
