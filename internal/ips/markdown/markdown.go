// Package markdown renders an IPS document Bundle as a plain Markdown
// summary.
package markdown

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/ehr/ips/internal/platform/fhir"
)

// FromBundle renders bundle as Markdown: the Composition title and
// narrative, one block per section, then an inventory of the bundle
// resources grouped by type in order of first appearance.
func FromBundle(bundle fhir.Resource) (string, error) {
	if fhir.ResourceType(bundle) != "Bundle" {
		return "", fhir.ErrInvalidBundle
	}
	resources, err := fhir.BundleResources(bundle)
	if err != nil {
		return "", err
	}

	var composition fhir.Resource
	for _, r := range resources {
		if fhir.IsType(r, "Composition") {
			composition = r
			break
		}
	}
	if composition == nil {
		return "# No Composition resource found in the bundle\n", nil
	}

	var b strings.Builder
	title := fhir.GetString(composition, "title")
	if title == "" {
		title = "Patient Summary"
	}
	b.WriteString("# " + title + "\n\n")
	if div := fhir.NarrativeDiv(composition); div != "" {
		b.WriteString(StripHTML(div) + "\n\n")
	}

	for i, sec := range fhir.GetMaps(composition, "section") {
		secTitle := fhir.GetString(sec, "title")
		if secTitle == "" {
			secTitle = fmt.Sprintf("Section %d", i+1)
		}
		b.WriteString("\n## " + secTitle + "\n")
		if div := fhir.NarrativeDiv(sec); div != "" {
			b.WriteString(StripHTML(div) + "\n")
		}
	}

	var types []string
	byType := make(map[string][]fhir.Resource)
	for _, r := range resources {
		t := fhir.ResourceType(r)
		if t == "Composition" {
			continue
		}
		if _, ok := byType[t]; !ok {
			types = append(types, t)
		}
		byType[t] = append(byType[t], r)
	}

	b.WriteString("\n---\n\n## Bundle Resources\n")
	for _, t := range types {
		list := byType[t]
		b.WriteString(fmt.Sprintf("\n### %s (%d)\n", t, len(list)))
		for _, r := range list {
			id := fhir.ResourceID(r)
			if id == "" {
				id = "(no id)"
			}
			b.WriteString("- **" + id + "**")
			if t == "Patient" {
				if names := patientNames(r); names != "" {
					b.WriteString(" - " + names)
				}
			}
			b.WriteString("\n")
		}
	}
	return b.String(), nil
}

func patientNames(p fhir.Resource) string {
	var names []string
	for _, n := range fhir.GetMaps(p, "name") {
		family := fhir.GetString(n, "family")
		if family == "" {
			continue
		}
		names = append(names, strings.TrimSpace(strings.Join(fhir.GetStrings(n, "given"), " ")+" "+family))
	}
	return strings.Join(names, ", ")
}

// StripHTML returns the text content of an XHTML fragment with entities
// decoded and whitespace collapsed. Text of adjacent elements is separated
// by a space.
func StripHTML(markup string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return strings.Join(strings.Fields(markup), " ")
	}
	var parts []string
	collectText(doc.Selection, &parts)
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}

func collectText(s *goquery.Selection, parts *[]string) {
	s.Contents().Each(func(_ int, c *goquery.Selection) {
		if goquery.NodeName(c) == "#text" {
			*parts = append(*parts, c.Text())
			return
		}
		collectText(c, parts)
	})
}
