package cli

import (
	"context"
	"encoding/json"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/secmon-lab/icsrlink/pkg/domain/model"
	"github.com/secmon-lab/icsrlink/pkg/service/icsr"
	"github.com/secmon-lab/icsrlink/pkg/service/validator"
	"github.com/secmon-lab/icsrlink/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

// ErrInvalidCase is returned when at least one input file has blocking findings
var ErrInvalidCase = goerr.New("case validation failed")

type fileReport struct {
	Path     string                 `json:"path"`
	Valid    bool                   `json:"valid"`
	Reports  []string               `json:"safety_report_ids,omitempty"`
	Errors   model.ValidationErrors `json:"errors,omitempty"`
	Warnings model.ValidationErrors `json:"warnings,omitempty"`
}

func cmdValidate() *cli.Command {
	var xmlInput bool

	return &cli.Command{
		Name:      "validate",
		Aliases:   []string{"v"},
		Usage:     "Validate case JSON files, or with --xml re-read generated documents and validate their cases",
		ArgsUsage: "<file> [<file>...]",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "xml",
				Usage:       "Inputs are ICSR XML documents (single case or batch)",
				Destination: &xmlInput,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			paths := c.Args().Slice()
			if len(paths) == 0 {
				return goerr.New("at least one file is required")
			}

			v := validator.New()
			invalid := 0
			reports := make([]fileReport, 0, len(paths))

			for _, path := range paths {
				cases, err := loadCases(path, xmlInput)
				if err != nil {
					return err
				}

				report := fileReport{Path: path, Valid: true}
				for _, cs := range cases {
					result := v.Validate(cs)
					report.Reports = append(report.Reports, cs.SafetyReportID)
					report.Errors = append(report.Errors, result.Errors.Errors()...)
					report.Warnings = append(report.Warnings, result.Errors.Warnings()...)
					if !result.Valid {
						report.Valid = false
					}
				}
				if !report.Valid {
					invalid++
				}

				logging.From(ctx).Info("Validated file",
					"path", path,
					"valid", report.Valid,
					"errors", len(report.Errors),
					"warnings", len(report.Warnings))
				reports = append(reports, report)
			}

			enc := json.NewEncoder(c.Root().Writer)
			enc.SetIndent("", "  ")
			if err := enc.Encode(reports); err != nil {
				return goerr.Wrap(err, "failed to write report")
			}

			if invalid > 0 {
				return goerr.Wrap(ErrInvalidCase, "invalid input files", goerr.V("invalid", invalid), goerr.V("total", len(paths)))
			}
			return nil
		},
	}
}

func loadCases(path string, xmlInput bool) ([]*model.Case, error) {
	// #nosec G304 - path is given on the command line
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read input", goerr.V("path", path))
	}

	if !xmlInput {
		var c model.Case
		if err := json.Unmarshal(data, &c); err != nil {
			return nil, goerr.Wrap(err, "failed to decode case JSON", goerr.V("path", path))
		}
		c.ApplyDefaults()
		return []*model.Case{&c}, nil
	}

	if doc, err := icsr.Parse(data); err == nil {
		return []*model.Case{doc.Case}, nil
	}
	batch, err := icsr.ParseBatch(data)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to parse ICSR document", goerr.V("path", path))
	}
	cases := make([]*model.Case, 0, len(batch.Bodies))
	for _, body := range batch.Bodies {
		cases = append(cases, body.Case)
	}
	return cases, nil
}
