package service

import (
	"bytes"
	"encoding/base64"
	"encoding/csv"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
	"stockledger-backend/internal/domain"
)

// ColumnMapping names the header of each imported field. Date and Price are
// optional.
type ColumnMapping struct {
	OrderID string
	SKU     string
	Qty     string
	Date    string
	Price   string
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"02/01/2006 15:04",
	"02/01/2006",
	"02-01-2006",
}

// readCSV returns every record of a CSV document. The delimiter is detected
// from the header line (comma or semicolon).
func readCSV(text string) ([][]string, error) {
	text = strings.TrimPrefix(text, "\ufeff")
	r := csv.NewReader(strings.NewReader(text))
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	if header, _, _ := strings.Cut(text, "\n"); strings.Count(header, ";") > strings.Count(header, ",") {
		r.Comma = ';'
	}
	records, err := r.ReadAll()
	if err != nil {
		return nil, domain.Invalid("csvText", "cannot parse CSV: %v", err)
	}
	return records, nil
}

// readXLSX returns the rows of the first sheet of a base64 encoded workbook.
func readXLSX(encoded string) ([][]string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return nil, domain.Invalid("xlsxBase64", "is not valid base64")
	}
	f, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		return nil, domain.Invalid("xlsxBase64", "cannot open workbook: %v", err)
	}
	defer f.Close()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, domain.Invalid("xlsxBase64", "workbook has no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	return rows, nil
}

func readRecords(in ImportInput) ([][]string, error) {
	switch {
	case strings.TrimSpace(in.XlsxBase64) != "":
		return readXLSX(in.XlsxBase64)
	case strings.TrimSpace(in.CsvText) != "":
		return readCSV(in.CsvText)
	default:
		return nil, domain.Invalid("csvText", "csvText or xlsxBase64 is required")
	}
}

type columnIndex struct {
	orderID, sku, qty, date, price int
}

func headerIndex(header []string, m ColumnMapping) (columnIndex, error) {
	find := func(field, name string, required bool) (int, error) {
		name = strings.TrimSpace(name)
		if name == "" {
			if required {
				return -1, domain.Invalid("mapping."+field, "is required")
			}
			return -1, nil
		}
		for i, h := range header {
			if strings.EqualFold(strings.TrimSpace(h), name) {
				return i, nil
			}
		}
		return -1, domain.Invalid("mapping."+field, "column %q not found in header", name)
	}
	var (
		idx columnIndex
		err error
	)
	if idx.orderID, err = find("orderId", m.OrderID, true); err != nil {
		return idx, err
	}
	if idx.sku, err = find("sku", m.SKU, true); err != nil {
		return idx, err
	}
	if idx.qty, err = find("qty", m.Qty, true); err != nil {
		return idx, err
	}
	if idx.date, err = find("date", m.Date, false); err != nil {
		return idx, err
	}
	if idx.price, err = find("price", m.Price, false); err != nil {
		return idx, err
	}
	return idx, nil
}

// parseRows turns records into import rows. Row numbers count the header as
// row 1. Blank lines are skipped; every invalid row is reported at once.
func parseRows(records [][]string, m ColumnMapping) ([]domain.CsvImportRow, error) {
	if len(records) == 0 {
		return nil, domain.Invalid("csvText", "file is empty")
	}
	idx, err := headerIndex(records[0], m)
	if err != nil {
		return nil, err
	}

	cell := func(rec []string, i int) string {
		if i < 0 || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var (
		rows     []domain.CsvImportRow
		problems []string
	)
	for n, rec := range records[1:] {
		rowNumber := n + 2
		if blank(rec) {
			continue
		}
		row := domain.CsvImportRow{
			RowNumber:       rowNumber,
			ExternalOrderID: cell(rec, idx.orderID),
			ExternalSKU:     cell(rec, idx.sku),
			Status:          domain.RowPending,
		}
		if row.ExternalOrderID == "" {
			problems = append(problems, fmt.Sprintf("row %d: order id is empty", rowNumber))
		}
		if row.ExternalSKU == "" {
			problems = append(problems, fmt.Sprintf("row %d: sku is empty", rowNumber))
		}
		qty, err := strconv.Atoi(cell(rec, idx.qty))
		if err != nil || qty <= 0 {
			problems = append(problems, fmt.Sprintf("row %d: qty %q must be a positive integer", rowNumber, cell(rec, idx.qty)))
		}
		row.Qty = qty
		if raw := cell(rec, idx.price); raw != "" {
			p, err := parsePrice(raw)
			if err != nil {
				problems = append(problems, fmt.Sprintf("row %d: price %q is not a number", rowNumber, raw))
			} else {
				row.Price = &p
			}
		}
		if raw := cell(rec, idx.date); raw != "" {
			t, ok := parseDate(raw)
			if !ok {
				problems = append(problems, fmt.Sprintf("row %d: date %q is not recognized", rowNumber, raw))
			} else {
				row.OrderDate = &t
			}
		}
		rows = append(rows, row)
	}
	if len(problems) > 0 {
		return nil, domain.Invalid("rows", "%s", strings.Join(problems, "; "))
	}
	if len(rows) == 0 {
		return nil, domain.Invalid("csvText", "file has no data rows")
	}
	return rows, nil
}

func blank(rec []string) bool {
	for _, c := range rec {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// parsePrice accepts plain decimals and thousands separators such as
// "189.000" or "189,000.50".
func parsePrice(raw string) (decimal.Decimal, error) {
	s := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "Rp"))
	s = strings.ReplaceAll(s, " ", "")
	if d, err := decimal.NewFromString(s); err == nil && !d.IsNegative() {
		if strings.Count(s, ".") == 1 && len(s)-strings.Index(s, ".") == 4 && !strings.Contains(s, ",") {
			// "189.000" is a thousands separator, not three decimals.
			return decimal.NewFromString(strings.ReplaceAll(s, ".", ""))
		}
		return d, nil
	}
	normalized := s
	switch {
	case strings.Contains(s, ",") && strings.Contains(s, "."):
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			normalized = strings.ReplaceAll(strings.ReplaceAll(s, ".", ""), ",", ".")
		} else {
			normalized = strings.ReplaceAll(s, ",", "")
		}
	case strings.Contains(s, ","):
		normalized = strings.ReplaceAll(s, ",", "")
	case strings.Count(s, ".") > 1:
		normalized = strings.ReplaceAll(s, ".", "")
	}
	d, err := decimal.NewFromString(normalized)
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, errors.New("negative price")
	}
	return d, nil
}

func parseDate(raw string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
