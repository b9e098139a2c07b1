package jobconfig

import (
	"fmt"
	"strings"

	"bemflow/internal/services"
)

// ConfigError reports every problem found in a job configuration.
type ConfigError struct {
	Source   string
	Problems []string
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("job config")
	if e.Source != "" {
		b.WriteByte(' ')
		b.WriteString(e.Source)
	}
	b.WriteString(": ")
	b.WriteString(strings.Join(e.Problems, "; "))
	return b.String()
}

// Unwrap lets errors.Is match services.ErrConfiguration.
func (e *ConfigError) Unwrap() error {
	return services.ErrConfiguration
}

type problems struct {
	list []string
}

func (p *problems) addf(format string, args ...any) {
	p.list = append(p.list, fmt.Sprintf(format, args...))
}

func (p *problems) err(source string) error {
	if len(p.list) == 0 {
		return nil
	}
	return &ConfigError{Source: source, Problems: p.list}
}
