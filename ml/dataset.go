package ml

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DefaultTarget is the label column of the heart disease CSV.
const DefaultTarget = "target"

// Dataset is a dense feature matrix with integer labels.
type Dataset struct {
	Columns  []string
	Features [][]float64
	Labels   []int
	// Imputed counts median-filled cells per numeric column.
	Imputed map[string]int
}

var missingTokens = map[string]struct{}{
	"": {}, "na": {}, "n/a": {}, "nan": {}, "null": {}, "none": {}, "#n/a": {}, "?": {},
}

func isMissing(cell string) bool {
	_, ok := missingTokens[strings.ToLower(strings.TrimSpace(cell))]
	return ok
}

// LoadDatasetFile opens path and calls LoadDataset.
func LoadDatasetFile(path, target string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadDataset(f, target)
}

// LoadDataset reads a CSV with a header row. Numeric columns have missing
// cells filled with the column median; non-numeric columns are one-hot
// encoded as <column>_<value> and appended after the numeric ones.
func LoadDataset(r io.Reader, target string) (*Dataset, error) {
	if target == "" {
		target = DefaultTarget
	}
	decoded := transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder()))
	reader := csv.NewReader(decoded)
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read csv: %w", err)
	}
	if len(records) < 2 {
		return nil, errors.New("csv has no data rows")
	}
	header := records[0]
	rows := records[1:]

	targetIdx := -1
	for i, name := range header {
		header[i] = strings.TrimSpace(name)
		if header[i] == target {
			targetIdx = i
		}
	}
	if targetIdx == -1 {
		return nil, fmt.Errorf("target column %q not found", target)
	}

	labels := make([]int, len(rows))
	for i, row := range rows {
		cell := strings.TrimSpace(row[targetIdx])
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil || isMissing(cell) || v != math.Trunc(v) {
			return nil, fmt.Errorf("row %d: invalid target %q", i+2, cell)
		}
		labels[i] = int(v)
	}

	var numeric, categorical []int
	for col := range header {
		if col == targetIdx {
			continue
		}
		if isNumericColumn(rows, col) {
			numeric = append(numeric, col)
		} else {
			categorical = append(categorical, col)
		}
	}

	ds := &Dataset{Labels: labels, Features: make([][]float64, len(rows))}
	for i := range ds.Features {
		ds.Features[i] = make([]float64, 0, len(header))
	}

	for _, col := range numeric {
		values := make([]float64, len(rows))
		present := make([]float64, 0, len(rows))
		for i, row := range rows {
			if isMissing(row[col]) {
				values[i] = math.NaN()
				continue
			}
			v, _ := strconv.ParseFloat(strings.TrimSpace(row[col]), 64)
			values[i] = v
			present = append(present, v)
		}
		if len(present) == 0 {
			return nil, fmt.Errorf("column %q has no values", header[col])
		}
		fill := median(present)
		if missing := len(rows) - len(present); missing > 0 {
			if ds.Imputed == nil {
				ds.Imputed = make(map[string]int)
			}
			ds.Imputed[header[col]] = missing
		}
		for i, v := range values {
			if math.IsNaN(v) {
				v = fill
			}
			ds.Features[i] = append(ds.Features[i], v)
		}
		ds.Columns = append(ds.Columns, header[col])
	}

	for _, col := range categorical {
		var levels []string
		for _, row := range rows {
			if !isMissing(row[col]) {
				levels = append(levels, strings.TrimSpace(row[col]))
			}
		}
		slices.Sort(levels)
		levels = slices.Compact(levels)
		for _, level := range levels {
			for i, row := range rows {
				v := 0.0
				if !isMissing(row[col]) && strings.TrimSpace(row[col]) == level {
					v = 1
				}
				ds.Features[i] = append(ds.Features[i], v)
			}
			ds.Columns = append(ds.Columns, header[col]+"_"+level)
		}
	}

	if len(ds.Columns) == 0 {
		return nil, errors.New("csv has no feature columns")
	}
	return ds, nil
}

func isNumericColumn(rows [][]string, col int) bool {
	for _, row := range rows {
		if isMissing(row[col]) {
			continue
		}
		if _, err := strconv.ParseFloat(strings.TrimSpace(row[col]), 64); err != nil {
			return false
		}
	}
	return true
}

// Split shuffles row indices with seed and holds out ceil(n*testRatio) rows.
func (d *Dataset) Split(testRatio float64, seed int64) (*Dataset, *Dataset, error) {
	if testRatio <= 0 || testRatio >= 1 {
		return nil, nil, fmt.Errorf("test ratio must be in (0, 1), got %v", testRatio)
	}
	n := len(d.Features)
	testSize := int(math.Ceil(float64(n) * testRatio))
	if testSize == 0 || testSize >= n {
		return nil, nil, fmt.Errorf("cannot split %d rows with test ratio %v", n, testRatio)
	}
	perm := rand.New(rand.NewSource(seed)).Perm(n)
	test := d.subset(perm[:testSize])
	train := d.subset(perm[testSize:])
	return train, test, nil
}

func (d *Dataset) subset(idx []int) *Dataset {
	out := &Dataset{
		Columns:  slices.Clone(d.Columns),
		Features: make([][]float64, len(idx)),
		Labels:   make([]int, len(idx)),
	}
	for i, j := range idx {
		out.Features[i] = d.Features[j]
		out.Labels[i] = d.Labels[j]
	}
	return out
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}
