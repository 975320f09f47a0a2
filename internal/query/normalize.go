package query

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"time"
)

// Row is one result row whose JSON form is an object with keys in column
// order.
type Row struct {
	Columns []string
	Values  []any
}

func (r Row) Get(column string) (any, bool) {
	for i, name := range r.Columns {
		if name == column {
			return r.Values[i], true
		}
	}
	return nil, false
}

func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range r.Columns {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		var value any
		if i < len(r.Values) {
			value = r.Values[i]
		}
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode column %q: %w", name, err)
		}
		buf.Write(encoded)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Normalize zips every row with the column names. Each row gets exactly
// len(columns) values; row order is preserved.
func Normalize(columns []string, rows [][]any) []Row {
	keys := UniqueColumnNames(columns)
	normalized := make([]Row, 0, len(rows))
	for _, values := range rows {
		row := Row{Columns: keys, Values: make([]any, len(keys))}
		for i := range keys {
			if i < len(values) {
				row.Values[i] = NormalizeValue(values[i])
			}
		}
		normalized = append(normalized, row)
	}
	return normalized
}

// UniqueColumnNames keeps the first occurrence of a name and suffixes later
// duplicates with _2, _3 and so on.
func UniqueColumnNames(columns []string) []string {
	seen := make(map[string]int, len(columns))
	taken := make(map[string]struct{}, len(columns))
	for _, name := range columns {
		taken[name] = struct{}{}
	}

	unique := make([]string, 0, len(columns))
	for _, name := range columns {
		seen[name]++
		if seen[name] == 1 {
			unique = append(unique, name)
			continue
		}
		n := seen[name]
		candidate := name + "_" + strconv.Itoa(n)
		for {
			if _, exists := taken[candidate]; !exists {
				break
			}
			n++
			candidate = name + "_" + strconv.Itoa(n)
		}
		seen[name] = n
		taken[candidate] = struct{}{}
		unique = append(unique, candidate)
	}
	return unique
}

type float64Value interface {
	Float64() float64
}

type float64ValueErr interface {
	Float64() (float64, error)
}

// NormalizeValue converts driver values into JSON-safe scalars. Numbers,
// booleans, strings and nil pass through.
func NormalizeValue(value any) any {
	switch typed := value.(type) {
	case nil, bool, string, int, int8, int16, int32, int64, uint8, uint16, uint32, uint64:
		return typed
	case float64:
		return finiteOrString(typed)
	case float32:
		return finiteOrString(float64(typed))
	case []byte:
		return string(typed)
	case time.Time:
		return formatTime(typed)
	case *big.Int:
		if typed == nil {
			return nil
		}
		if typed.IsInt64() {
			return typed.Int64()
		}
		return typed.String()
	case float64Value:
		return finiteOrString(typed.Float64())
	case float64ValueErr:
		f, err := typed.Float64()
		if err != nil {
			return fmt.Sprint(typed)
		}
		return finiteOrString(f)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = NormalizeValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[key] = NormalizeValue(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[fmt.Sprint(key)] = NormalizeValue(item)
		}
		return out
	case fmt.Stringer:
		return typed.String()
	default:
		return typed
	}
}

func finiteOrString(value float64) any {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return strconv.FormatFloat(value, 'g', -1, 64)
	}
	return value
}

// formatTime renders midnight UTC values as plain dates, which is how DATE
// columns come back from the drivers.
func formatTime(value time.Time) string {
	utc := value.UTC()
	if value.Location() == time.UTC && utc.Hour() == 0 && utc.Minute() == 0 && utc.Second() == 0 && utc.Nanosecond() == 0 {
		return utc.Format(time.DateOnly)
	}
	return value.Format(time.RFC3339Nano)
}
