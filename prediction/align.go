package prediction

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
)

// Align orders raw attributes by columns. Keys absent from raw become 0 and
// keys not in columns are dropped.
func Align(raw map[string]float64, columns []string) []float64 {
	vector := make([]float64, len(columns))
	for i, name := range columns {
		vector[i] = raw[name]
	}
	return vector
}

// ParseAttributes converts a decoded JSON object into a patient record. Every
// value must be a finite number; strings are not coerced.
func ParseAttributes(in map[string]any) (map[string]float64, error) {
	out := make(map[string]float64, len(in))
	for key, value := range in {
		v, err := toFloat(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAttribute, key, err)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("%w: %q: not a finite number", ErrInvalidAttribute, key)
		}
		out[key] = v
	}
	return out, nil
}

func checkFinite(raw map[string]float64) error {
	for key, v := range raw {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %q: not a finite number", ErrInvalidAttribute, key)
		}
	}
	return nil
}

func toFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case json.Number:
		return v.Float64()
	case nil:
		return 0, errors.New("null value")
	}
	rv := reflect.ValueOf(value)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	}
	return 0, fmt.Errorf("unsupported type %T", value)
}
