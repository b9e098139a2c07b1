package logging

import (
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"
)

// metricPrecision bounds float output so metric noise such as
// 19.950000000000003 prints as 19.95.
const metricPrecision = 1e6

// ValueString renders v without quoting. Job log messages store field values
// in this form.
func ValueString(v slog.Value) string {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return v.String()
	case slog.KindFloat64:
		return formatFloat(v.Float64())
	case slog.KindDuration:
		return roundDuration(v.Duration()).String()
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339)
	case slog.KindAny:
		switch val := v.Any().(type) {
		case error:
			return val.Error()
		case []string:
			return strings.Join(val, ",")
		case fmt.Stringer:
			return val.String()
		default:
			return fmt.Sprint(val)
		}
	default:
		return v.String()
	}
}

// jsonValue keeps numbers and booleans native for JSON lines; everything
// else is written as its ValueString. Non-finite floats are not valid JSON.
func jsonValue(v slog.Value) any {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindBool:
		return v.Bool()
	case slog.KindInt64:
		return v.Int64()
	case slog.KindUint64:
		return v.Uint64()
	case slog.KindFloat64:
		f := v.Float64()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return formatFloat(f)
		}
		return math.Round(f*metricPrecision) / metricPrecision
	case slog.KindAny:
		if ids, ok := v.Any().([]string); ok {
			return ids
		}
	}
	return ValueString(v)
}

// consoleValue quotes values that would break key: value lines.
func consoleValue(v slog.Value) string {
	if v.Kind() == slog.KindTime {
		return v.Time().In(time.Local).Format(consoleTimeLayout)
	}
	s := ValueString(v)
	if s == "" || strings.ContainsAny(s, "\n\r\t\"") {
		return strconv.Quote(s)
	}
	return s
}

func formatFloat(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'g', -1, 64)
	}
	return strconv.FormatFloat(math.Round(f*metricPrecision)/metricPrecision, 'f', -1, 64)
}

// roundDuration trims sub-millisecond noise from stage and tool timings.
func roundDuration(d time.Duration) time.Duration {
	if d >= time.Second {
		return d.Round(time.Millisecond)
	}
	return d.Round(time.Microsecond)
}
