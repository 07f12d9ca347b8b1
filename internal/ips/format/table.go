package format

import (
	"fmt"
	"html"
	"strings"
)

// TableClass is the class carried by every section table.
const TableClass = "hapiPropertyTable"

// Row is one table row. Cells hold markup-safe content; ID is the raw
// narrative-link locator, escaped on write, and may be empty.
type Row struct {
	ID    string
	Cells []string
}

// Table is a titled property table.
type Table struct {
	Heading    string
	HeadingTag string // h5 unless set
	Headers    []string
	Rows       []Row
}

// Write appends the table markup to b. Rows shorter than the header are
// padded with empty cells.
func (t Table) Write(b *strings.Builder) {
	if t.Heading != "" {
		tag := t.HeadingTag
		if tag == "" {
			tag = "h5"
		}
		b.WriteString(fmt.Sprintf("<%s>%s</%s>", tag, t.Heading, tag))
	}
	b.WriteString(`<table class="` + TableClass + `"><thead><tr>`)
	for _, h := range t.Headers {
		b.WriteString("<th>" + h + "</th>")
	}
	b.WriteString("</tr></thead><tbody>")
	for _, r := range t.Rows {
		b.WriteString(`<tr id="` + html.EscapeString(r.ID) + `">`)
		for i := range t.Headers {
			cell := ""
			if i < len(r.Cells) {
				cell = r.Cells[i]
			}
			b.WriteString("<td>" + cell + "</td>")
		}
		b.WriteString("</tr>")
	}
	b.WriteString("</tbody></table>")
}

// String renders the table markup.
func (t Table) String() string {
	var b strings.Builder
	t.Write(&b)
	return b.String()
}
