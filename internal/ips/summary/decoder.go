package summary

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ehr/ips/internal/ips/format"
	"github.com/ehr/ips/internal/ips/section"
	"github.com/ehr/ips/internal/platform/fhir"
)

// Row is a decoded summary row with its narrative-link locator.
type Row struct {
	ID     string
	Fields FieldMap
}

// Decoder turns prior summary Compositions back into rows.
type Decoder struct {
	registry *section.Registry
}

// NewDecoder creates a Decoder that routes prior IPS sections with reg.
func NewDecoder(reg *section.Registry) *Decoder {
	if reg == nil {
		reg = section.NewRegistry()
	}
	return &Decoder{registry: reg}
}

// DecodeSummary decodes a per-section summary Composition. Each nested
// section whose children are all leaves is a row; each leaf's title is a
// field label and its narrative the value. Other sections are groups and are
// descended into.
func (d *Decoder) DecodeSummary(comp fhir.Resource) []Row {
	var rows []Row
	walkSections(fhir.GetMaps(comp, "section"), &rows)
	return rows
}

func walkSections(sections []map[string]interface{}, rows *[]Row) {
	loose := FieldMap{}
	for _, sec := range sections {
		children := fhir.GetMaps(sec, "section")
		if len(children) == 0 {
			addLeaf(loose, sec)
			continue
		}
		if allLeaves(children) {
			fields := FieldMap{}
			for _, leaf := range children {
				addLeaf(fields, leaf)
			}
			if len(fields) > 0 {
				*rows = append(*rows, Row{ID: rowID(sec), Fields: fields})
			}
			continue
		}
		walkSections(children, rows)
	}
	// Leaves mixed in with rows or groups form a row of their own.
	if len(loose) > 0 {
		*rows = append(*rows, Row{Fields: loose})
	}
}

func allLeaves(sections []map[string]interface{}) bool {
	for _, s := range sections {
		if len(fhir.GetMaps(s, "section")) > 0 {
			return false
		}
	}
	return true
}

func addLeaf(fields FieldMap, leaf map[string]interface{}) {
	title := strings.TrimSpace(fhir.GetString(leaf, "title"))
	if title == "" {
		return
	}
	fields[title] = strings.TrimSpace(fhir.InnerDiv(fhir.NarrativeDiv(leaf)))
}

// rowID takes the locator from a narrativeLink extension on the row, then
// from its element id.
func rowID(sec map[string]interface{}) string {
	if id := format.NarrativeLinkID(sec); id != "" {
		return id
	}
	return fhir.GetString(sec, "id")
}

// DecodeIPS decodes every section of a prior IPS document by reading the
// property tables of its narrative. Sections whose code maps to no kind are
// skipped.
func (d *Decoder) DecodeIPS(comp fhir.Resource) (map[section.Kind][]Row, error) {
	out := make(map[section.Kind][]Row)
	for _, sec := range fhir.GetMaps(comp, "section") {
		kind, ok := d.registry.KindForSection(sec)
		if !ok {
			continue
		}
		rows, err := DecodeTables(fhir.NarrativeDiv(sec))
		if err != nil {
			return nil, fmt.Errorf("decode %s narrative: %w", kind, err)
		}
		out[kind] = append(out[kind], rows...)
	}
	return out, nil
}

// DecodeTables reads every hapiPropertyTable in div. Header cells are field
// labels, body cells are values kept as inner markup, and the row id is the
// locator.
func DecodeTables(div string) ([]Row, error) {
	if strings.TrimSpace(div) == "" {
		return nil, nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(div))
	if err != nil {
		return nil, fmt.Errorf("failed to parse narrative: %w", err)
	}
	var rows []Row
	doc.Find("table." + format.TableClass).Each(func(_ int, table *goquery.Selection) {
		var headers []string
		table.Find("thead th").Each(func(_ int, th *goquery.Selection) {
			headers = append(headers, strings.TrimSpace(th.Text()))
		})
		table.Find("tbody tr").Each(func(_ int, tr *goquery.Selection) {
			fields := FieldMap{}
			tr.Find("td").Each(func(i int, td *goquery.Selection) {
				if i >= len(headers) || headers[i] == "" {
					return
				}
				if inner, err := td.Html(); err == nil {
					fields[headers[i]] = strings.TrimSpace(inner)
				}
			})
			if len(fields) == 0 {
				return
			}
			id, _ := tr.Attr("id")
			rows = append(rows, Row{ID: id, Fields: fields})
		})
	})
	return rows, nil
}
