// Package csvdata parses delimited text uploads into their record structure.
package csvdata

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
)

type Extractor struct{}

func New() *Extractor {
	return &Extractor{}
}

// Extract parses the input as CSV and serializes the parsed rows as JSON, so
// downstream consumers get structure rather than raw text.
func (e *Extractor) Extract(ctx context.Context, r io.Reader) (string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1 // tolerate ragged rows

	records, err := reader.ReadAll()
	if err != nil {
		return "", fmt.Errorf("parse csv: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(records) == 0 {
		return "", fmt.Errorf("csv contains no records")
	}

	out, err := json.Marshal(records)
	if err != nil {
		return "", fmt.Errorf("serialize csv records: %w", err)
	}
	return string(out), nil
}
