package types_test

import (
	"testing"
	"time"

	"github.com/m-mizutani/gt"
	"github.com/secmon-lab/icsrlink/pkg/domain/types"
)

func TestParsePartialDate(t *testing.T) {
	tests := []struct {
		input   string
		compact string
		wantErr bool
	}{
		{input: "2024-03-05", compact: "20240305"},
		{input: "2024-03", compact: "202403"},
		{input: "2024", compact: "2024"},
		{input: "2024-13", wantErr: true},
		{input: "2024-02-30", wantErr: true},
		{input: "24-03-05", wantErr: true},
		{input: "", wantErr: true},
		{input: "20240305", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			d, err := types.ParsePartialDate(tt.input)
			if tt.wantErr {
				gt.Error(t, err)
				return
			}
			gt.NoError(t, err).Required()
			gt.S(t, d.Compact()).Equal(tt.compact)
			gt.S(t, d.String()).Equal(tt.input)

			back, err := types.ParseCompactDate(d.Compact())
			gt.NoError(t, err).Required()
			gt.V(t, back).Equal(d)
		})
	}
}

func TestPartialDate_Before(t *testing.T) {
	parse := func(s string) types.PartialDate {
		d, err := types.ParsePartialDate(s)
		gt.NoError(t, err).Required()
		return d
	}

	gt.B(t, parse("2024-03-01").Before(parse("2024-03-02"))).True()
	gt.B(t, parse("2024-03-02").Before(parse("2024-03-01"))).False()
	gt.B(t, parse("2023").Before(parse("2024-01-01"))).True()
	// same month at the shared precision is not "before"
	gt.B(t, parse("2024-03-15").Before(parse("2024-03"))).False()
	gt.B(t, parse("2024-03").Before(parse("2024-03-15"))).False()
}

func TestPartialDate_After(t *testing.T) {
	d, err := types.ParsePartialDate("2030-01-01")
	gt.NoError(t, err).Required()
	gt.B(t, d.After(time.Date(2029, 12, 31, 0, 0, 0, 0, time.UTC))).True()
	gt.B(t, d.After(time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC))).False()
}
