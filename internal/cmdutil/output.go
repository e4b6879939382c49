package cmdutil

import (
	"fmt"
	"io"

	"github.com/opmodel/hcp/internal/output"
)

// WriteResult prints v as YAML or JSON, or the table rendered by table when
// format is FormatTable.
func WriteResult(w io.Writer, format output.Format, v any, table func() string) error {
	if format != output.FormatTable {
		return output.WriteStructured(w, format, v)
	}
	_, err := fmt.Fprintln(w, table())
	return err
}
