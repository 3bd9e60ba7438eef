// Package spreadsheet reads workbook uploads with excelize.
package spreadsheet

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

type Extractor struct{}

func New() *Extractor {
	return &Extractor{}
}

// Extract reads the first sheet of the workbook only and serializes its rows
// as JSON. Remaining sheets are intentionally ignored.
func (e *Extractor) Extract(ctx context.Context, r io.Reader) (string, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return "", fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return "", fmt.Errorf("workbook has no sheets")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return "", fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	if len(rows) == 0 {
		return "", fmt.Errorf("sheet %q is empty", sheets[0])
	}

	out, err := json.Marshal(rows)
	if err != nil {
		return "", fmt.Errorf("serialize sheet rows: %w", err)
	}
	return string(out), nil
}
