// Package importer turns spreadsheet rows into jobs. Every row goes through
// CreateJob with the same validation as any other caller.
package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"brandline/internal/domain"
	"brandline/internal/engine"
)

// Creator is the command the importer drives.
type Creator interface {
	CreateJob(ctx context.Context, req engine.CreateJobRequest) (domain.Job, error)
}

var requiredColumns = []string{"phone", "person_type"}

// RowError ties a rejected row to the physical line it starts on (header is line 1).
type RowError struct {
	Line int    `json:"line"`
	Err  string `json:"error"`
}

type Report struct {
	Created []int64    `json:"created"`
	Errors  []RowError `json:"errors,omitempty"`
}

type CSV struct {
	Jobs  Creator
	Actor domain.Actor
	// Comma overrides the field separator; zero means ','.
	Comma rune
}

// Import creates one job per data row. Validation failures are collected per
// line; a storage failure stops the import.
func (c CSV) Import(ctx context.Context, r io.Reader) (Report, error) {
	var report Report
	reader := csv.NewReader(r)
	if c.Comma != 0 {
		reader.Comma = c.Comma
	}
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return report, errors.New("empty input: header row required")
		}
		return report, fmt.Errorf("read header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, name := range header {
		cols[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return report, fmt.Errorf("missing column %q", name)
		}
	}
	field := func(rec []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return report, nil
		}
		if err != nil {
			var perr *csv.ParseError
			if !errors.As(err, &perr) {
				return report, fmt.Errorf("read: %w", err)
			}
			report.Errors = append(report.Errors, RowError{Line: perr.StartLine, Err: err.Error()})
			continue
		}
		// Quoted fields may span lines; report where the record starts.
		line, _ := reader.FieldPos(0)
		if isBlank(rec) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return report, err
		}
		job, err := c.Jobs.CreateJob(ctx, engine.CreateJobRequest{
			Actor:         c.Actor,
			ClientName:    field(rec, "client_name"),
			ClientSurname: field(rec, "client_surname"),
			Phone:         field(rec, "phone"),
			BrandName:     field(rec, "brand_name"),
			PersonType:    domain.PersonType(strings.ToLower(field(rec, "person_type"))),
			OperatorID:    field(rec, "operator_id"),
		})
		if err != nil {
			var storeErr engine.StoreError
			if errors.As(err, &storeErr) {
				return report, fmt.Errorf("line %d: %w", line, err)
			}
			report.Errors = append(report.Errors, RowError{Line: line, Err: err.Error()})
			continue
		}
		report.Created = append(report.Created, job.ID)
	}
}

func isBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
