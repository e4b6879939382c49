package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"

	oerrors "github.com/opmodel/hcp/internal/errors"
)

// Format specifies how structured command output is rendered.
type Format string

const (
	// FormatTable renders a human table.
	FormatTable Format = "table"

	// FormatYAML renders YAML.
	FormatYAML Format = "yaml"

	// FormatJSON renders indented JSON.
	FormatJSON Format = "json"
)

// String returns the string representation of the format.
func (f Format) String() string {
	return string(f)
}

// Valid reports whether f is a known format.
func (f Format) Valid() bool {
	switch f {
	case FormatTable, FormatYAML, FormatJSON:
		return true
	default:
		return false
	}
}

// ParseFormat parses a --output flag value. Empty means table.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "table":
		return FormatTable, nil
	case "yaml", "yml":
		return FormatYAML, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", oerrors.Wrapf(oerrors.ErrValidation, "unknown output format %q (valid: %s)",
			s, strings.Join(ValidFormats(), ", "))
	}
}

// ValidFormats returns the accepted --output values.
func ValidFormats() []string {
	return []string{"table", "yaml", "json"}
}

// WriteStructured writes v as YAML or JSON. Table output is the caller's
// job; passing FormatTable is an error.
func WriteStructured(w io.Writer, format Format, v any) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encoding json: %w", err)
		}
		return nil
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
		return enc.Close()
	default:
		return oerrors.Wrapf(oerrors.ErrValidation, "format %q is not structured", format)
	}
}
