package fhir

import (
	"html"
	"regexp"
	"strings"
)

// XHTMLNamespace is the namespace required on every narrative root element.
const XHTMLNamespace = "http://www.w3.org/1999/xhtml"

// NarrativeStatusGenerated marks text produced entirely from structured data.
const NarrativeStatusGenerated = "generated"

var outerDiv = regexp.MustCompile(`(?s)^\s*<div[^>]*>(.*)</div>\s*$`)

// WrapDiv wraps inner XHTML in the namespaced narrative root element. An
// existing outer <div> around content is replaced rather than nested.
func WrapDiv(content string) string {
	return `<div xmlns="` + XHTMLNamespace + `">` + InnerDiv(content) + `</div>`
}

// InnerDiv returns the content of a single enclosing <div>, or content
// unchanged when it is not wrapped in exactly one div.
func InnerDiv(content string) string {
	if m := outerDiv.FindStringSubmatch(content); m != nil && balancedDiv(m[1]) {
		return m[1]
	}
	return content
}

// Narrative builds a FHIR Narrative element with status "generated".
func Narrative(content string) map[string]interface{} {
	return map[string]interface{}{
		"status": NarrativeStatusGenerated,
		"div":    WrapDiv(content),
	}
}

// NarrativeDiv returns text.div of r, or "".
func NarrativeDiv(r map[string]interface{}) string {
	return GetString(GetMap(r, "text"), "div")
}

// balancedDiv reports whether the inner content of a matched outer div has
// matching open and close tags, so "<div>a</div><div>b</div>" is not unwrapped.
func balancedDiv(inner string) bool {
	depth := 0
	lower := strings.ToLower(inner)
	for i := 0; i < len(lower); i++ {
		switch {
		case strings.HasPrefix(lower[i:], "<div"):
			depth++
		case strings.HasPrefix(lower[i:], "</div>"):
			depth--
			if depth < 0 {
				return false
			}
		}
	}
	return depth == 0
}

// EscapeText escapes all HTML-significant characters in s and converts line
// breaks to <br/> so author-entered formatting survives.
func EscapeText(s string) string {
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = html.EscapeString(s)
	return strings.ReplaceAll(s, "\n", "<br/>")
}
