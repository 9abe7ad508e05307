package records

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/unicode/norm"

	apperrors "dvfcli/internal/errors"
)

var dateLayouts = []string{"2006-01-02", "02/01/2006", "2006-01-02 15:04:05"}

// Reader loads the ledger into RawRow values.
type Reader struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewReader creates a ledger reader
func NewReader(logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logger,
	}
}

// ReadFile opens path and reads every row.
func (r *Reader) ReadFile(ctx context.Context, path string) ([]RawRow, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	defer f.Close()
	return r.Read(ctx, f)
}

// Read parses a ledger stream. Any schema violation is returned as a SCHEMA
// AppError wrapping a *SchemaError.
func (r *Reader) Read(ctx context.Context, src io.Reader) ([]RawRow, error) {
	buf := bufio.NewReaderSize(src, 1<<20)
	delim, err := sniffDelimiter(buf)
	if err != nil {
		return nil, fmt.Errorf("sniff delimiter: %w", err)
	}

	reader := csv.NewReader(buf)
	reader.Comma = delim
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, apperrors.NewSchemaError("ledger is empty", &SchemaError{Reason: "no header"})
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols, err := newColumnIndex(header)
	if err != nil {
		return nil, apperrors.NewSchemaError("ledger header does not match schema", err)
	}

	rows := make([]RawRow, 0, 1024)
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, apperrors.NewSchemaError("malformed ledger line", &SchemaError{Line: line, Reason: err.Error()})
		}
		if line%500000 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			r.logger.DebugContext(ctx, "reading ledger", "lines", line)
		}

		row, err := r.parseRow(cols, record, line)
		if err != nil {
			return nil, apperrors.NewSchemaError("ledger row does not match schema", err)
		}
		rows = append(rows, row)
	}

	r.logger.InfoContext(ctx, "loaded ledger",
		"rows", len(rows),
		"delimiter", string(delim),
	)
	return rows, nil
}

func (r *Reader) parseRow(cols columnIndex, record []string, line int) (RawRow, error) {
	row := RawRow{
		Line:               line,
		MutationID:         cols.get(record, ColMutationID),
		MutationNature:     ParseMutationNature(cols.get(record, ColMutationNature)),
		AddressNumber:      cols.get(record, ColAddressNumber),
		AddressSuffix:      cols.get(record, ColAddressSuffix),
		StreetName:         normalizeName(cols.get(record, ColStreetName)),
		StreetCode:         cols.get(record, ColStreetCode),
		PostalCode:         cols.get(record, ColPostalCode),
		CommuneCode:        cols.get(record, ColCommuneCode),
		CommuneName:        normalizeName(cols.get(record, ColCommuneName)),
		DepartmentCode:     cols.get(record, ColDepartmentCode),
		ParcelID:           cols.get(record, ColParcelID),
		PropertyType:       ParsePropertyType(cols.get(record, ColPropertyType)),
		LandUseType:        normalizeName(cols.get(record, ColLandUseType)),
		SpecialLandUseType: normalizeName(cols.get(record, ColSpecialLandUseType)),
	}

	var err error
	if row.Date, err = parseDate(cols.get(record, ColDate)); err != nil {
		return row, cellError(line, ColDate, cols.get(record, ColDate), err)
	}
	disp := cols.get(record, ColDispositionNo)
	if row.DispositionNo, err = strconv.Atoi(disp); err != nil {
		return row, cellError(line, ColDispositionNo, disp, err)
	}

	floats := []struct {
		col string
		dst **float64
	}{
		{ColPropertyValue, &row.PropertyValue},
		{ColBuiltSurface, &row.BuiltSurface},
		{ColLandSurface, &row.LandSurface},
		{ColLongitude, &row.Longitude},
		{ColLatitude, &row.Latitude},
	}
	for _, f := range floats {
		raw := cols.get(record, f.col)
		if *f.dst, err = parseOptionalFloat(raw); err != nil {
			return row, cellError(line, f.col, raw, err)
		}
	}

	rooms := cols.get(record, ColNumRooms)
	if row.NumRooms, err = parseOptionalInt(rooms); err != nil {
		return row, cellError(line, ColNumRooms, rooms, err)
	}

	if err := r.validate.Struct(row); err != nil {
		return row, &SchemaError{Line: line, Reason: err.Error()}
	}
	return row, nil
}

func cellError(line int, col, value string, err error) *SchemaError {
	return &SchemaError{Line: line, Column: col, Value: value, Reason: err.Error()}
}

func sniffDelimiter(buf *bufio.Reader) (rune, error) {
	peek, err := buf.Peek(4096)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return 0, err
	}
	first := string(peek)
	if i := strings.IndexByte(first, '\n'); i >= 0 {
		first = first[:i]
	}

	best, bestCount := ',', strings.Count(first, ",")
	for _, d := range []rune{';', '|', '\t'} {
		if n := strings.Count(first, string(d)); n > bestCount {
			best, bestCount = d, n
		}
	}
	return best, nil
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date")
}

func parseOptionalFloat(s string) (*float64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(strings.Replace(s, ",", ".", 1), 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func parseOptionalInt(s string) (*int, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil || f != float64(int(f)) {
			return nil, err
		}
		v = int(f)
	}
	return &v, nil
}

// normalizeName puts labels into NFC so that accented names group consistently.
func normalizeName(s string) string {
	return norm.NFC.String(s)
}
