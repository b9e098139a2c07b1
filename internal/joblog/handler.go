package joblog

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"bemflow/internal/logging"
)

type handler struct {
	ch     *Channel
	level  slog.Leveler
	attrs  []slog.Attr
	groups []string
}

// NewHandler returns a slog.Handler that publishes records into ch. Records
// logged after the channel closed are discarded.
func NewHandler(ch *Channel, level slog.Leveler) slog.Handler {
	if ch == nil {
		return logging.NoopHandler{}
	}
	if level == nil {
		level = slog.LevelInfo
	}
	return &handler{ch: ch, level: level}
}

func (h *handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *handler) Handle(_ context.Context, record slog.Record) error {
	msg := Message{
		Time:  record.Time,
		Level: logging.LevelName(record.Level),
		Text:  strings.TrimSpace(record.Message),
	}
	for _, attr := range h.attrs {
		applyAttr(&msg, nil, attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		applyAttr(&msg, h.groups, attr)
		return true
	})
	if err := h.ch.Publish(msg); err != nil && !errors.Is(err, ErrClosed) {
		return err
	}
	return nil
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	next := *h
	next.attrs = cloneAttrs(h.attrs, len(attrs))
	for _, attr := range attrs {
		if len(h.groups) > 0 {
			attr = slog.Group(strings.Join(h.groups, "."), attr)
		}
		next.attrs = append(next.attrs, attr)
	}
	return &next
}

func (h *handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.groups = append(append([]string(nil), h.groups...), name)
	return &next
}

func cloneAttrs(src []slog.Attr, extra int) []slog.Attr {
	out := make([]slog.Attr, len(src), len(src)+extra)
	copy(out, src)
	return out
}

func applyAttr(msg *Message, groups []string, attr slog.Attr) {
	attr.Value = attr.Value.Resolve()
	if attr.Key == "" && attr.Value.Kind() != slog.KindGroup {
		return
	}
	if attr.Value.Kind() == slog.KindGroup {
		nested := groups
		if attr.Key != "" {
			nested = append(append([]string(nil), groups...), attr.Key)
		}
		for _, child := range attr.Value.Group() {
			applyAttr(msg, nested, child)
		}
		return
	}
	key := attr.Key
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + key
	}
	switch key {
	case logging.FieldStage:
		msg.Stage = logging.ValueString(attr.Value)
		return
	case logging.FieldComponent:
		msg.Component = logging.ValueString(attr.Value)
		return
	case logging.FieldJobID:
		return
	}
	if msg.Fields == nil {
		msg.Fields = make(map[string]string)
	}
	msg.Fields[key] = logging.ValueString(attr.Value)
}
