package summary

import (
	"fmt"
	"strings"

	"github.com/ehr/ips/internal/ips/format"
	"github.com/ehr/ips/internal/ips/section"
)

// Render renders decoded rows as the narrative of kind. Rows whose cells
// are identical collapse into the first one. It returns ("", false) when no
// rows carry any data.
func Render(kind section.Kind, rows []Row) (string, bool, error) {
	schema, ok := SchemaFor(kind)
	if !ok {
		return "", false, fmt.Errorf("%w: no summary schema for %s", section.ErrUnknownKind, kind)
	}
	t := format.Table{Heading: schema.Heading, Headers: schema.Headers()}
	seen := make(map[string]bool, len(rows))
	for _, r := range rows {
		cells := schema.Cells(r.Fields)
		if isBlank(cells) {
			continue
		}
		key := strings.Join(cells, "\x1f")
		if seen[key] {
			continue
		}
		seen[key] = true
		t.Rows = append(t.Rows, format.Row{ID: r.ID, Cells: cells})
	}
	if len(t.Rows) == 0 {
		return "", false, nil
	}
	return t.String(), true, nil
}

func isBlank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
