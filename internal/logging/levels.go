package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// LevelNames lists the level names accepted by [logging] level and a job's
// log_level, from most to least verbose.
var LevelNames = []string{"debug", "info", "warn", "error"}

var levelsByName = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// ParseLevel maps a level name to a slog level. Names are case-insensitive
// and an empty name means info.
func ParseLevel(name string) (slog.Level, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return slog.LevelInfo, nil
	}
	level, ok := levelsByName[name]
	if !ok {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q (want one of %s)", name, strings.Join(LevelNames, ", "))
	}
	return level, nil
}

// LevelName is the lowercase name written to JSON lines and job log messages.
func LevelName(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "error"
	case level >= slog.LevelWarn:
		return "warn"
	case level >= slog.LevelInfo:
		return "info"
	default:
		return "debug"
	}
}

// EffectiveLevel reports the most verbose level logger emits. A nil logger,
// or one that emits nothing, reports info.
func EffectiveLevel(logger *slog.Logger) slog.Level {
	if logger == nil {
		return slog.LevelInfo
	}
	for _, name := range LevelNames {
		level := levelsByName[name]
		if logger.Enabled(context.Background(), level) {
			return level
		}
	}
	return slog.LevelInfo
}

// JobLevel resolves a job's log_level. Jobs that leave it unset, or set a
// name that does not parse, inherit the daemon logger's level, or info when
// the daemon logs nothing.
func JobLevel(name string, daemon *slog.Logger) slog.Level {
	if strings.TrimSpace(name) != "" {
		if level, err := ParseLevel(name); err == nil {
			return level
		}
	}
	return EffectiveLevel(daemon)
}
