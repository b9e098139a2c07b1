package logs

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"bemflow/internal/joblog"
	"bemflow/internal/logging"
)

// ParseJobLine decodes one line of a per-job JSON log file into the message
// the job's log channel carried for it. Seq is left zero; ReadJobLog numbers
// messages by position.
func ParseJobLine(line string) (joblog.Message, error) {
	var raw logging.Line
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return joblog.Message{}, fmt.Errorf("decode job log line: %w", err)
	}
	msg := joblog.Message{
		Kind:      joblog.KindEntry,
		Time:      raw.Time,
		Level:     raw.Level,
		Component: raw.Component,
		Stage:     raw.Stage,
		Text:      raw.Message,
	}
	if len(raw.Fields) > 0 {
		msg.Fields = make(map[string]string, len(raw.Fields))
		for key, value := range raw.Fields {
			msg.Fields[key] = stringValue(value)
		}
	}
	return msg, nil
}

// stringValue renders a decoded field the way the log channel renders the
// original attribute.
func stringValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case []any:
		parts := make([]string, len(val))
		for i, item := range val {
			parts[i] = stringValue(item)
		}
		return strings.Join(parts, ",")
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(data)
	}
}

// ReadJobLog decodes a job's log file into messages numbered from 1.
// Undecodable lines are skipped. A missing file yields no messages.
func ReadJobLog(ctx context.Context, path string) ([]joblog.Message, error) {
	result, err := Tail(ctx, path, TailOptions{Offset: 0})
	if err != nil {
		return nil, err
	}
	msgs := make([]joblog.Message, 0, len(result.Lines))
	for _, line := range result.Lines {
		msg, err := ParseJobLine(line)
		if err != nil {
			continue
		}
		msg.Seq = uint64(len(msgs) + 1)
		msgs = append(msgs, msg)
	}
	return msgs, nil
}
