package output

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/gonvenience/ytbx"
	"github.com/homeport/dyff/pkg/dyff"
	"sigs.k8s.io/yaml"

	"github.com/opmodel/hcp/internal/manifest"
)

// RenderDelta renders the added/modified/removed asset summary between two
// versions.
func RenderDelta(from, to string, delta *manifest.Delta) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s → %s\n", StyleAction.Render("Comparing"), StyleNoun.Render(from), StyleNoun.Render(to))

	if delta.IsEmpty() {
		sb.WriteString("No asset changes.\n")
		return sb.String()
	}

	section := func(tag manifest.ChangeTag, marker string, entries []manifest.Entry) {
		if len(entries) == 0 {
			return
		}
		style := ChangeStyle(string(tag))
		title := strings.ToUpper(string(tag[:1])) + string(tag[1:])
		fmt.Fprintf(&sb, "%s\n", style.Render(title+":"))
		for _, e := range entries {
			fmt.Fprintf(&sb, "  %s %s\n", marker, style.Render(e.URLPath))
		}
	}
	section(manifest.ChangeAdded, "+", delta.Added)
	section(manifest.ChangeModified, "~", delta.Modified)
	section(manifest.ChangeRemoved, "-", delta.Removed)

	fmt.Fprintf(&sb, "%s\n", StyleSummary.Render(fmt.Sprintf("%d added, %d modified, %d removed",
		len(delta.Added), len(delta.Modified), len(delta.Removed))))
	return sb.String()
}

// ManifestDiff renders a structural diff of two raw manifest documents.
// Returns "" when the documents are equivalent.
func ManifestDiff(older, newer []byte, useColor bool) (string, error) {
	olderInput, err := manifestInput("older", older)
	if err != nil {
		return "", err
	}
	newerInput, err := manifestInput("newer", newer)
	if err != nil {
		return "", err
	}

	report, err := dyff.CompareInputFiles(olderInput, newerInput)
	if err != nil {
		return "", fmt.Errorf("comparing manifests: %w", err)
	}
	if len(report.Diffs) == 0 {
		return "", nil
	}

	var buf bytes.Buffer
	writer := &dyff.HumanReport{
		Report:            report,
		DoNotInspectCerts: true,
		NoTableStyle:      !useColor,
		OmitHeader:        true,
	}
	if err := writer.WriteReport(io.Writer(&buf)); err != nil {
		return "", fmt.Errorf("writing report: %w", err)
	}

	lines := strings.Split(buf.String(), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), nil
}

// manifestInput converts a JSON manifest to a dyff input document.
func manifestInput(name string, data []byte) (ytbx.InputFile, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return ytbx.InputFile{Location: name}, nil
	}

	y, err := yaml.JSONToYAML(data)
	if err != nil {
		return ytbx.InputFile{}, fmt.Errorf("converting %s manifest: %w", name, err)
	}
	docs, err := ytbx.LoadYAMLDocuments(y)
	if err != nil {
		return ytbx.InputFile{}, fmt.Errorf("parsing %s manifest: %w", name, err)
	}
	return ytbx.InputFile{Location: name, Documents: docs}, nil
}
