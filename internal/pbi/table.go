package pbi

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Row is one result row keyed by normalized column name.
type Row map[string]any

// Table is the first table of the first result of a query.
type Table []Row

// NormalizeColumn strips the table qualifier and brackets from a column key:
// "Employees[Name]" and "[Name]" both become "Name".
func NormalizeColumn(k string) string {
	k = strings.TrimSpace(k)
	if strings.HasSuffix(k, "]") {
		if i := strings.LastIndex(k, "["); i >= 0 {
			return k[i+1 : len(k)-1]
		}
	}
	return k
}

func normalizeRow(raw map[string]any) Row {
	out := make(Row, len(raw))
	for k, v := range raw {
		out[NormalizeColumn(k)] = v
	}
	return out
}

// String returns the column as trimmed text; nulls and missing columns are "".
func (r Row) String(col string) string {
	switch v := r[col].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		b, _ := json.Marshal(v)
		return string(b)
	}
}

// Number returns the column as a decimal. ok is false for nulls and blanks.
func (r Row) Number(col string) (d decimal.Decimal, ok bool, err error) {
	return ParseNumber(col, r[col])
}

// Date returns the column as a date. ok is false for nulls, blanks and the
// BI "no date" sentinel (1899-12-30).
func (r Row) Date(col string) (t time.Time, ok bool, err error) {
	return ParseDate(col, r[col])
}

// ParseNumber coerces a scalar into a decimal. Strings may use a comma as
// the decimal separator ("1234,56") and spaces as thousands separators.
func ParseNumber(col string, v any) (decimal.Decimal, bool, error) {
	switch x := v.(type) {
	case nil:
		return decimal.Zero, false, nil
	case json.Number:
		d, err := decimal.NewFromString(x.String())
		if err != nil {
			return decimal.Zero, false, &DataError{Column: col, Value: v, Reason: "not a number"}
		}
		return d, true, nil
	case float64:
		return decimal.NewFromFloat(x), true, nil
	case int:
		return decimal.NewFromInt(int64(x)), true, nil
	case int64:
		return decimal.NewFromInt(x), true, nil
	case string:
		s := strings.Map(func(r rune) rune {
			switch r {
			case ' ', '\u00a0', '\u202f':
				return -1
			}
			return r
		}, x)
		if s == "" {
			return decimal.Zero, false, nil
		}
		// With both separators present the last one is the decimal point.
		if c, p := strings.LastIndex(s, ","), strings.LastIndex(s, "."); c >= 0 && p >= 0 {
			if c > p {
				s = strings.ReplaceAll(s, ".", "")
			} else {
				s = strings.ReplaceAll(s, ",", "")
			}
		}
		s = strings.ReplaceAll(s, ",", ".")
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, false, &DataError{Column: col, Value: v, Reason: "not a number"}
		}
		return d, true, nil
	default:
		return decimal.Zero, false, &DataError{Column: col, Value: v, Reason: "unsupported numeric type"}
	}
}

// NoDate is the value the BI engine serializes for blank dates.
var NoDate = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

var dateLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.999999999",
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
	time.DateOnly,
	"02.01.2006",
}

// ParseDate coerces a scalar into a UTC calendar date. Time of day is kept
// as delivered; callers that need a date key format with time.DateOnly.
func ParseDate(col string, v any) (time.Time, bool, error) {
	s, isString := v.(string)
	if v == nil || (isString && strings.TrimSpace(s) == "") {
		return time.Time{}, false, nil
	}
	if !isString {
		return time.Time{}, false, &DataError{Column: col, Value: v, Reason: "date is not a string"}
	}
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err != nil {
			continue
		}
		y, m, d := t.Date()
		if y == NoDate.Year() && m == NoDate.Month() && d == NoDate.Day() {
			return time.Time{}, false, nil
		}
		return t.UTC(), true, nil
	}
	return time.Time{}, false, &DataError{Column: col, Value: v, Reason: "unparseable date"}
}

// Quote renders s as a DAX string literal.
func Quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// DateTimeLiteral renders t as a DAX datetime literal usable in DATATABLE.
func DateTimeLiteral(t time.Time) string {
	return Quote(t.Format("2006-01-02T15:04:05"))
}
