package table

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrCoerce is returned when a value cannot be converted to its column type.
var ErrCoerce = errors.New("table: cannot coerce value")

var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	time.DateTime,
	"2006-01-02 15:04:05.000",
	time.DateOnly,
	"20060102",
}

// Coerce converts v to the Go representation of t: string, time.Time (UTC),
// int64 or float64. Coerce(Coerce(v)) == Coerce(v).
func Coerce(t ColumnType, v any) (any, error) {
	switch t {
	case String:
		return toString(v)
	case DateTime64:
		return toTime(v)
	case Int64:
		return toInt64(v)
	default:
		return toFloat64(v)
	}
}

func toString(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "", nil
	case string:
		return x, nil
	case []byte:
		return string(x), nil
	case json.Number:
		return x.String(), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case int:
		return strconv.Itoa(x), nil
	case decimal.Decimal:
		return x.String(), nil
	case time.Time:
		return x.UTC().Format(time.RFC3339Nano), nil
	case fmt.Stringer:
		return x.String(), nil
	default:
		return fmt.Sprint(v), nil
	}
}

// toTime reads integers as epoch milliseconds.
func toTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC(), nil
	case *time.Time:
		if x == nil {
			return time.Time{}, fmt.Errorf("%w: nil time", ErrCoerce)
		}
		return x.UTC(), nil
	case string:
		s := strings.TrimSpace(x)
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC(), nil
		}
		return time.Time{}, fmt.Errorf("%w: %q as datetime", ErrCoerce, x)
	case nil:
		return time.Time{}, fmt.Errorf("%w: nil as datetime", ErrCoerce)
	default:
		ms, err := toInt64(v)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %v (%T) as datetime", ErrCoerce, v, v)
		}
		return time.UnixMilli(ms).UTC(), nil
	}
}

// toInt64 truncates fractional values toward zero.
func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case int64:
		return x, nil
	case int:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint64:
		return int64(x), nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, fmt.Errorf("%w: %v as integer", ErrCoerce, x)
		}
		return int64(x), nil
	case float32:
		return toInt64(float64(x))
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case time.Time:
		return x.UnixMilli(), nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		return decimalToInt(x.String())
	case string:
		return decimalToInt(x)
	case decimal.Decimal:
		return x.IntPart(), nil
	default:
		return 0, fmt.Errorf("%w: %v (%T) as integer", ErrCoerce, v, v)
	}
}

func toFloat64(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case nil:
		return math.NaN(), nil
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case json.Number:
		return decimalToFloat(x.String())
	case string:
		return decimalToFloat(x)
	case decimal.Decimal:
		return x.InexactFloat64(), nil
	default:
		return 0, fmt.Errorf("%w: %v (%T) as float", ErrCoerce, v, v)
	}
}

// Upstream prices arrive as decimal strings; NaN/Inf spellings fall back to strconv.
func decimalToFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if d, err := decimal.NewFromString(s); err == nil {
		return d.InexactFloat64(), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q as float", ErrCoerce, s)
	}
	return f, nil
}

func decimalToInt(s string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q as integer", ErrCoerce, s)
	}
	return d.IntPart(), nil
}
