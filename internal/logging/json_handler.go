package logging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"
)

// Line is one JSON log record. The daemon log in json format and every
// per-job log file are written as Lines, one per line, so an archived job log
// decodes back into the messages its log channel carried.
type Line struct {
	Time      time.Time      `json:"ts"`
	Level     string         `json:"level"`
	JobID     string         `json:"job_id,omitempty"`
	Component string         `json:"component,omitempty"`
	Stage     string         `json:"stage,omitempty"`
	Message   string         `json:"msg"`
	Source    string         `json:"source,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

type jsonHandler struct {
	mu        *sync.Mutex
	w         io.Writer
	level     slog.Leveler
	addSource bool
	state     attrState
}

func newJSONHandler(w io.Writer, level slog.Leveler, addSource bool) *jsonHandler {
	return &jsonHandler{mu: &sync.Mutex{}, w: w, level: level, addSource: addSource}
}

func (h *jsonHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *jsonHandler) Handle(_ context.Context, record slog.Record) error {
	e := h.state.entry(record)
	line := Line{
		Time:      e.time.UTC(),
		Level:     LevelName(e.level),
		JobID:     e.jobID,
		Component: e.component,
		Stage:     e.stage,
		Message:   e.message,
	}
	if h.addSource {
		if src := record.Source(); src != nil && src.File != "" {
			line.Source = fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line)
		}
	}
	if len(e.fields) > 0 {
		line.Fields = make(map[string]any, len(e.fields))
		for _, f := range e.fields {
			line.Fields[f.key] = jsonValue(f.value)
		}
	}
	data, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("encode log line: %w", err)
	}
	data = append(data, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err = h.w.Write(data)
	return err
}

func (h *jsonHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.state = h.state.withAttrs(attrs)
	return &next
}

func (h *jsonHandler) WithGroup(name string) slog.Handler {
	next := *h
	next.state = h.state.withGroup(name)
	return &next
}
