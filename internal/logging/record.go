package logging

import (
	"log/slog"
	"slices"
	"strings"
	"time"
)

// field is one attribute after group flattening; grouped keys are dotted.
type field struct {
	key   string
	value slog.Value
}

// entry is a record ready for output. The job, stage and component keys are
// lifted into the subject; the remaining fields keep first-seen order with
// the last value winning.
type entry struct {
	time      time.Time
	level     slog.Level
	message   string
	jobID     string
	stage     string
	component string
	fields    []field
}

func (e entry) lookup(key string) (slog.Value, bool) {
	for _, f := range e.fields {
		if f.key == key {
			return f.value, true
		}
	}
	return slog.Value{}, false
}

// attrState is the WithAttrs/WithGroup state shared by the handlers.
type attrState struct {
	fields []field
	groups []string
}

func (s attrState) withAttrs(attrs []slog.Attr) attrState {
	next := attrState{fields: slices.Clone(s.fields), groups: s.groups}
	for _, attr := range attrs {
		next.fields = appendFlat(next.fields, s.groups, attr)
	}
	return next
}

func (s attrState) withGroup(name string) attrState {
	if name == "" {
		return s
	}
	return attrState{fields: s.fields, groups: append(slices.Clone(s.groups), name)}
}

func (s attrState) entry(record slog.Record) entry {
	flat := make([]field, 0, len(s.fields)+record.NumAttrs())
	flat = append(flat, s.fields...)
	record.Attrs(func(attr slog.Attr) bool {
		flat = appendFlat(flat, s.groups, attr)
		return true
	})

	e := entry{
		time:    record.Time,
		level:   record.Level,
		message: strings.TrimSpace(record.Message),
		fields:  make([]field, 0, len(flat)),
	}
	if e.time.IsZero() {
		e.time = time.Now()
	}
	index := make(map[string]int, len(flat))
	for _, f := range flat {
		switch f.key {
		case FieldJobID:
			e.jobID = ValueString(f.value)
			continue
		case FieldStage:
			e.stage = ValueString(f.value)
			continue
		case FieldComponent:
			e.component = ValueString(f.value)
			continue
		}
		if pos, ok := index[f.key]; ok {
			e.fields[pos] = f
			continue
		}
		index[f.key] = len(e.fields)
		e.fields = append(e.fields, f)
	}
	return e
}

func appendFlat(dst []field, groups []string, attr slog.Attr) []field {
	attr.Value = attr.Value.Resolve()
	if attr.Value.Kind() == slog.KindGroup {
		nested := groups
		if attr.Key != "" {
			nested = append(slices.Clone(groups), attr.Key)
		}
		for _, child := range attr.Value.Group() {
			dst = appendFlat(dst, nested, child)
		}
		return dst
	}
	if attr.Key == "" {
		return dst
	}
	key := attr.Key
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + key
	}
	return append(dst, field{key: key, value: attr.Value})
}
