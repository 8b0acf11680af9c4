package packer

import (
	"encoding/csv"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// censusColumns maps the record.Census field order onto the column names of
// the ACS PUMS extract.
var censusColumns = []string{"AGEP", "SEX", "PINCP", "SCHL"}

// csvSource yields one value per schema field for every data row of a CSV
// dataset. The first line must be a header naming at least the requested
// columns.
type csvSource struct {
	file     *os.File
	reader   *csv.Reader
	colNames []string
	colIdx   []int
	row      int
}

func newCSVSource(path string, columns []string) (*csvSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open dataset %s", path)
	}

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		file.Close()
		return nil, errors.Wrapf(ErrInputFormat, "read header of %s: %s", path, err)
	}

	colIdx := make([]int, len(columns))
	for i, name := range columns {
		colIdx[i] = -1
		for j, col := range header {
			if strings.TrimSpace(col) == name {
				colIdx[i] = j
				break
			}
		}
		if colIdx[i] < 0 {
			file.Close()
			return nil, errors.Wrapf(ErrInputFormat, "column %s not found in %s", name, path)
		}
	}

	return &csvSource{
		file:     file,
		reader:   reader,
		colNames: columns,
		colIdx:   colIdx,
	}, nil
}

// Next fills dst with the values of the next data row in column order and
// returns io.EOF after the last row.
func (s *csvSource) Next(dst []uint64) error {
	fields, err := s.reader.Read()
	if err == io.EOF {
		return io.EOF
	}
	s.row++
	if err != nil {
		return errors.Wrapf(ErrInputFormat, "row %d: %s", s.row, err)
	}

	for i, col := range s.colIdx {
		value, err := parseNumeric(fields[col])
		if err != nil {
			return errors.Wrapf(ErrInputFormat, "row %d column %s: %s", s.row, s.colNames[i], err)
		}
		dst[i] = value
	}
	return nil
}

func (s *csvSource) Close() error {
	return s.file.Close()
}

// parseNumeric accepts integer or decimal text, truncating decimals toward
// zero. Census exports encode some counts as floats. Negative values wrap
// into the unsigned domain and are masked to field width by the codec.
func parseNumeric(text string) (uint64, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0, errors.New("empty value")
	}
	if v, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return uint64(v), nil
	}
	f, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, errors.Errorf("not a finite number: %s", trimmed)
	}
	return uint64(int64(f)), nil
}
