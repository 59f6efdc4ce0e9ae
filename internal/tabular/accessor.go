// Package tabular reads CSV sources and exposes their structured shape.
// It backs both collaborator surfaces the pipeline needs: the profile
// accessor and the raw-text source for context seeding.
package tabular

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"datanerd/internal/types"
)

const (
	maxSampleRows    = 5
	kindInferenceCap = 50 // rows examined when inferring column kinds
)

// Accessor resolves file IDs to CSV files. A file ID is either an absolute
// path or a name relative to the accessor's base directory.
type Accessor struct {
	baseDir string
}

// NewAccessor creates an accessor rooted at baseDir. An empty baseDir
// resolves relative IDs against the working directory.
func NewAccessor(baseDir string) *Accessor {
	return &Accessor{baseDir: baseDir}
}

func (a *Accessor) resolve(fileID string) string {
	if filepath.IsAbs(fileID) || a.baseDir == "" {
		return fileID
	}
	return filepath.Join(a.baseDir, fileID)
}

// ReadRaw returns the file's full text for context-store seeding.
func (a *Accessor) ReadRaw(ctx context.Context, fileID string) (string, error) {
	data, err := os.ReadFile(a.resolve(fileID))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", fileID, err)
	}
	return string(data), nil
}

// ReadProfile parses the CSV header and rows into a DataProfile. The first
// row is treated as the header; column kinds are inferred from the data.
func (a *Accessor) ReadProfile(ctx context.Context, fileID string) (*types.DataProfile, error) {
	f, err := os.Open(a.resolve(fileID))
	if err != nil {
		return nil, types.Fatal(fmt.Errorf("opening %s: %w", fileID, err))
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1

	records, err := reader.ReadAll()
	if err != nil {
		return nil, types.Fatal(types.Validation(fmt.Errorf("parsing %s: %w", fileID, err)))
	}
	if len(records) == 0 {
		return nil, types.Fatal(types.Validationf("%s is empty", fileID))
	}

	header := records[0]
	rows := records[1:]

	profile := &types.DataProfile{
		FileID:   fileID,
		RowCount: len(rows),
		Columns:  make([]types.Column, len(header)),
	}
	for i, name := range header {
		profile.Columns[i] = types.Column{
			Name: strings.TrimSpace(name),
			Kind: inferKind(columnValues(rows, i)),
		}
	}

	sample := len(rows)
	if sample > maxSampleRows {
		sample = maxSampleRows
	}
	for _, row := range rows[:sample] {
		profile.SampleRows = append(profile.SampleRows, append([]string(nil), row...))
	}
	return profile, nil
}

// columnValues collects non-empty values of one column, capped for kind
// inference.
func columnValues(rows [][]string, col int) []string {
	var values []string
	for _, row := range rows {
		if len(values) == kindInferenceCap {
			break
		}
		if col >= len(row) {
			continue
		}
		v := strings.TrimSpace(row[col])
		if v != "" {
			values = append(values, v)
		}
	}
	return values
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01",
	"01/02/2006",
	"2006-01-02 15:04:05",
	time.RFC3339,
}

// inferKind classifies a column as numeric, bool, date, or text. Every
// sampled value must match for a non-text kind to win.
func inferKind(values []string) string {
	if len(values) == 0 {
		return "text"
	}

	kinds := []struct {
		name  string
		match func(string) bool
	}{
		{"bool", isBool},
		{"numeric", isNumeric},
		{"date", isDate},
	}

	for _, kind := range kinds {
		all := true
		for _, v := range values {
			if !kind.match(v) {
				all = false
				break
			}
		}
		if all {
			return kind.name
		}
	}
	return "text"
}

func isNumeric(v string) bool {
	_, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", ""), 64)
	return err == nil
}

func isBool(v string) bool {
	switch strings.ToLower(v) {
	case "true", "false", "yes", "no":
		return true
	}
	return false
}

func isDate(v string) bool {
	for _, layout := range dateLayouts {
		if _, err := time.Parse(layout, v); err == nil {
			return true
		}
	}
	return false
}
