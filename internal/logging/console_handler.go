package logging

import (
	"bytes"
	"cmp"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

const consoleTimeLayout = "2006-01-02 15:04:05"

// consoleFieldLimit caps the fields printed under an info-or-above line.
const consoleFieldLimit = 8

// consolePriority orders the fields shown at info level; everything else
// follows in logged order until the limit.
var consolePriority = []string{
	FieldEventType,
	"error",
	FieldErrorHint,
	FieldImpact,
	"status",
	"stage_duration",
	"job_duration",
	"metric",
	"improvement",
	"intensity",
	"selection_size",
	"stop_reason",
	"building_count",
	"failed_ids",
}

type consoleHandler struct {
	mu        *sync.Mutex
	w         io.Writer
	level     slog.Leveler
	addSource bool
	state     attrState
}

func newConsoleHandler(w io.Writer, level slog.Leveler, addSource bool) *consoleHandler {
	return &consoleHandler{mu: &sync.Mutex{}, w: w, level: level, addSource: addSource}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	e := h.state.entry(record)
	round := ""
	if v, ok := e.lookup(FieldRound); ok {
		round = ValueString(v)
	}

	var buf bytes.Buffer
	buf.WriteString(e.time.In(time.Local).Format(consoleTimeLayout))
	buf.WriteByte(' ')
	buf.WriteString(strings.ToUpper(LevelName(e.level)))
	if e.component != "" {
		buf.WriteString(" [" + e.component + "]")
	}
	if subject := FormatSubject(e.jobID, e.stage, round); subject != "" {
		buf.WriteString(" " + subject)
	}
	buf.WriteString(" – ")
	if e.message == "" {
		buf.WriteString("(no message)")
	} else {
		buf.WriteString(e.message)
	}
	if h.addSource {
		if src := record.Source(); src != nil && src.File != "" {
			buf.WriteString(" [" + filepath.Base(src.File) + ":" + strconv.Itoa(src.Line) + "]")
		}
	}
	buf.WriteByte('\n')

	fields := slices.DeleteFunc(slices.Clone(e.fields), func(f field) bool { return f.key == FieldRound })
	hidden := 0
	if e.level >= slog.LevelInfo {
		fields, hidden = prioritize(fields)
	}
	for _, f := range fields {
		buf.WriteString("    - " + f.key + ": " + consoleValue(f.value) + "\n")
	}
	if hidden > 0 {
		buf.WriteString("    + " + strconv.Itoa(hidden) + " more")
		buf.WriteString(" (log at debug for all fields)\n")
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := h.w.Write(buf.Bytes())
	return err
}

// prioritize moves the priority keys first and cuts at consoleFieldLimit.
func prioritize(fields []field) ([]field, int) {
	rank := func(key string) int {
		if i := slices.Index(consolePriority, key); i >= 0 {
			return i
		}
		return len(consolePriority)
	}
	slices.SortStableFunc(fields, func(a, b field) int { return cmp.Compare(rank(a.key), rank(b.key)) })
	if len(fields) <= consoleFieldLimit {
		return fields, 0
	}
	return fields[:consoleFieldLimit], len(fields) - consoleFieldLimit
}

// FormatSubject renders the job, stage and round a console line is about.
// Job IDs are shortened to eight characters.
func FormatSubject(jobID, stage, round string) string {
	jobID = strings.TrimSpace(jobID)
	if len(jobID) > 8 {
		jobID = jobID[:8]
	}
	parts := make([]string, 0, 3)
	if jobID != "" {
		parts = append(parts, "job "+jobID)
	}
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if round = strings.TrimSpace(round); round != "" {
		parts = append(parts, "round "+round)
	}
	return strings.Join(parts, " · ")
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.state = h.state.withAttrs(attrs)
	return &next
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	next := *h
	next.state = h.state.withGroup(name)
	return &next
}
