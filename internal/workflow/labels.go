package workflow

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// StageLabel renders a stage name for people: "overrides_bulk" becomes
// "Overrides Bulk".
func StageLabel(name string) string {
	name = strings.TrimSpace(strings.ReplaceAll(name, "_", " "))
	if name == "" {
		return ""
	}
	// Casers keep state, so each call gets its own.
	return cases.Title(language.English).String(name)
}
