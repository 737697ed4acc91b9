package patient

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/xuri/excelize/v2"
)

// Column headers of the clinic's patient export.
var xlsxHeader = []string{"CIF", "Nombre", "Apellidos", "E-Mail", "Móvil"}

const xlsxSheet = "Pacientes"

// XLSXSource reads and appends patients in a spreadsheet. The first sheet
// is used; columns are located by header so extra columns are ignored.
type XLSXSource struct {
	path string
	mu   sync.Mutex
}

var _ Source = (*XLSXSource)(nil)

func NewXLSXSource(path string) *XLSXSource {
	return &XLSXSource{path: path}
}

// Load returns no records when the file does not exist yet.
func (s *XLSXSource) Load(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := excelize.OpenFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.path, err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, nil
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) < 2 {
		return nil, nil
	}

	cols := make(map[string]int)
	for i, h := range rows[0] {
		cols[strings.TrimSpace(h)] = i
	}
	for _, h := range xlsxHeader {
		if _, ok := cols[h]; !ok {
			return nil, fmt.Errorf("%s: missing column %q", s.path, h)
		}
	}
	cell := func(row []string, name string) string {
		i := cols[name]
		if i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	out := make([]Record, 0, len(rows)-1)
	for _, row := range rows[1:] {
		r := Record{
			ID:         cell(row, "CIF"),
			GivenName:  cell(row, "Nombre"),
			FamilyName: cell(row, "Apellidos"),
			Email:      cell(row, "E-Mail"),
			Phone:      cell(row, "Móvil"),
		}
		if r.ID == "" && r.Email == "" {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Add appends r as a new row, creating the workbook if needed.
func (s *XLSXSource) Add(ctx context.Context, r Record) error {
	return s.Append(ctx, r)
}

// Append writes several records in one save.
func (s *XLSXSource) Append(ctx context.Context, records ...Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, sheet, err := s.openOrCreate()
	if err != nil {
		return err
	}
	defer f.Close()

	rows, err := f.GetRows(sheet)
	if err != nil {
		return fmt.Errorf("read rows: %w", err)
	}
	next := len(rows) + 1
	for _, r := range records {
		values := []any{r.ID, r.GivenName, r.FamilyName, r.Email, r.Phone}
		cell, err := excelize.CoordinatesToCellName(1, next)
		if err != nil {
			return fmt.Errorf("failed to convert coordinates: %w", err)
		}
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return fmt.Errorf("write row %d: %w", next, err)
		}
		next++
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("ensure directory: %w", err)
	}
	if err := f.SaveAs(s.path); err != nil {
		return fmt.Errorf("save %s: %w", s.path, err)
	}
	return nil
}

func (s *XLSXSource) openOrCreate() (*excelize.File, string, error) {
	f, err := excelize.OpenFile(s.path)
	if err == nil {
		sheet := f.GetSheetName(0)
		if sheet == "" {
			_ = f.Close()
			return nil, "", fmt.Errorf("%s has no sheets", s.path)
		}
		return f, sheet, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, "", fmt.Errorf("open %s: %w", s.path, err)
	}

	f = excelize.NewFile()
	if _, err := f.NewSheet(xlsxSheet); err != nil {
		_ = f.Close()
		return nil, "", fmt.Errorf("failed to create sheet: %w", err)
	}
	if err := f.DeleteSheet("Sheet1"); err != nil {
		_ = f.Close()
		return nil, "", fmt.Errorf("failed to drop default sheet: %w", err)
	}
	if index, err := f.GetSheetIndex(xlsxSheet); err == nil {
		f.SetActiveSheet(index)
	}
	header := make([]any, len(xlsxHeader))
	for i, h := range xlsxHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(xlsxSheet, "A1", &header); err != nil {
		_ = f.Close()
		return nil, "", fmt.Errorf("write header: %w", err)
	}
	return f, xlsxSheet, nil
}
