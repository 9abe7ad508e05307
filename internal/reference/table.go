package reference

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// table is a header-addressed set of string rows.
type table struct {
	columns map[string]int
	rows    [][]string
}

// value returns the trimmed cell of row i for the first present column among names.
func (t *table) value(i int, names ...string) string {
	for _, name := range names {
		if c, ok := t.columns[strings.ToUpper(name)]; ok && c < len(t.rows[i]) {
			return strings.TrimSpace(t.rows[i][c])
		}
	}
	return ""
}

func (t *table) has(names ...string) bool {
	for _, name := range names {
		if _, ok := t.columns[strings.ToUpper(name)]; ok {
			return true
		}
	}
	return false
}

// readTable loads a CSV or XLSX file.
func readTable(path string) (*table, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xlsx", ".xlsm":
		return readXLSX(path)
	default:
		return readCSV(path)
	}
}

func readCSV(path string) (*table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf := bufio.NewReader(f)
	first, err := buf.Peek(2048)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, err
	}
	line := string(first)
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}

	reader := csv.NewReader(buf)
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	reader.Comma = ','
	for _, d := range []rune{';', '|', '\t'} {
		if strings.Count(line, string(d)) > strings.Count(line, string(reader.Comma)) {
			reader.Comma = d
		}
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return newTable(records)
}

func readXLSX(path string) (*table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%s has no sheet", filepath.Base(path))
	}
	records, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheets[0], err)
	}
	return newTable(records)
}

func newTable(records [][]string) (*table, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("table has no header")
	}
	t := &table{columns: make(map[string]int, len(records[0])), rows: records[1:]}
	for i, name := range records[0] {
		name = strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))
		t.columns[strings.ToUpper(name)] = i
	}
	return t, nil
}
