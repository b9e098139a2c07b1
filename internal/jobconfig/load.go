package jobconfig

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Format is the document encoding of a job configuration.
type Format string

const (
	FormatTOML Format = "toml"
	FormatYAML Format = "yaml"
)

// ParseFormat accepts a format name as sent over IPC.
func ParseFormat(value string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "toml":
		return FormatTOML, nil
	case "yaml", "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported job config format %q (want toml or yaml)", value)
	}
}

// FormatFromPath picks the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return "", fmt.Errorf("job config %s has no extension; use .toml, .yaml, or .yml", path)
	}
	return ParseFormat(ext)
}

// Load reads, decodes, and validates a job configuration file.
func Load(path string) (*Config, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, &ConfigError{Source: path, Problems: []string{err.Error()}}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Source: path, Problems: []string{fmt.Sprintf("read: %v", err)}}
	}
	return Parse(data, format, path)
}

// Parse decodes and validates a job configuration document.
func Parse(data []byte, format Format, source string) (*Config, error) {
	cfg, err := Decode(data, format, source)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode strictly decodes a document without validating stage requirements.
// Unknown keys are rejected. The scheduler validates at run time so a job
// with missing settings still gets a record that ends in Error.
func Decode(data []byte, format Format, source string) (*Config, error) {
	var cfg Config
	switch format {
	case FormatTOML:
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return nil, &ConfigError{Source: source, Problems: tomlProblems(err)}
		}
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil, &ConfigError{Source: source, Problems: []string{"document is empty"}}
			}
			return nil, &ConfigError{Source: source, Problems: []string{fmt.Sprintf("parse yaml: %v", err)}}
		}
	default:
		return nil, &ConfigError{Source: source, Problems: []string{fmt.Sprintf("unsupported format %q", format)}}
	}
	cfg.Source = source
	return &cfg, nil
}

func tomlProblems(err error) []string {
	var strict *toml.StrictMissingError
	if errors.As(err, &strict) {
		out := make([]string, 0, len(strict.Errors))
		for _, e := range strict.Errors {
			out = append(out, fmt.Sprintf("unknown field %q", strings.Join(e.Key(), ".")))
		}
		return out
	}
	var decodeErr *toml.DecodeError
	if errors.As(err, &decodeErr) {
		row, col := decodeErr.Position()
		return []string{fmt.Sprintf("parse toml at line %d column %d: %v", row, col, decodeErr)}
	}
	return []string{fmt.Sprintf("parse toml: %v", err)}
}
