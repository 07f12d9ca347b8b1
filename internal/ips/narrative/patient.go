package narrative

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ehr/ips/internal/ips/format"
	"github.com/ehr/ips/internal/platform/fhir"
)

// telecomPriority orders telecom groups; unknown systems follow in
// alphabetical order.
var telecomPriority = map[string]int{
	"email": 0, "phone": 1, "pager": 2, "sms": 3, "fax": 4, "url": 5, "other": 6,
}

// RenderPatient renders the Composition narrative of a patient.
func (g *Generator) RenderPatient(patient fhir.Resource, u *format.Utilities, tz string) string {
	if u == nil {
		u = g.Utilities([]fhir.Resource{patient})
	}
	return patientList(Env{U: u, TZ: tz, AddressThreshold: g.addressThreshold}, patient)
}

func renderPatients(env Env, records []fhir.Resource) (string, error) {
	var b strings.Builder
	for _, p := range records {
		b.WriteString(patientList(env, p))
	}
	return b.String(), nil
}

func patientList(env Env, p fhir.Resource) string {
	u := env.U
	var items []string
	add := func(label, value string) {
		if value != "" {
			items = append(items, fmt.Sprintf("<li><strong>%s:</strong> %s</li>", label, value))
		}
	}

	add("Name(s)", strings.Join(patientNames(u, p), ", "))
	add("Gender", u.Text(format.Capitalize(fhir.GetString(p, "gender"))))
	add("Date of Birth", u.RenderDate(fhir.GetString(p, "birthDate")))
	add("Identifier(s)", strings.Join(patientIdentifiers(u, p), ", "))
	if telecom := patientTelecom(u, p); telecom != "" {
		items = append(items, "<li><strong>Telecom:</strong><ul>"+telecom+"</ul></li>")
	}
	add("Address(es)", strings.Join(patientAddresses(u, p, env.AddressThreshold), "<br/>"))
	add("Marital Status", u.CodeableConcept(fhir.GetMap(p, "maritalStatus"), ""))
	add("Deceased", deceased(u, p))
	add("Language(s)", strings.Join(patientLanguages(u, p), ", "))

	if len(items) == 0 {
		return ""
	}
	return "<ul>" + strings.Join(items, "") + "</ul>"
}

func patientNames(u *format.Utilities, p fhir.Resource) []string {
	seen := make(map[string]bool)
	var out []string
	for _, n := range fhir.GetMaps(p, "name") {
		if fhir.GetString(n, "use") == "old" {
			continue
		}
		s := u.Text(format.HumanName(n))
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func patientIdentifiers(u *format.Utilities, p fhir.Resource) []string {
	var out []string
	for _, id := range fhir.GetMaps(p, "identifier") {
		value := fhir.GetString(id, "value")
		if value == "" {
			continue
		}
		if system := fhir.GetString(id, "system"); system != "" {
			out = append(out, u.Text(system+": "+value))
		} else {
			out = append(out, u.Text(value))
		}
	}
	return out
}

// patientTelecom renders one list item per telecom system. Phone numbers
// that differ only by formatting or a country prefix are merged.
func patientTelecom(u *format.Utilities, p fhir.Resource) string {
	groups := make(map[string][]string)
	for _, t := range fhir.GetMaps(p, "telecom") {
		value := fhir.GetString(t, "value")
		if value == "" {
			continue
		}
		system := fhir.GetString(t, "system")
		if system == "" {
			system = "other"
		}
		groups[system] = append(groups[system], value)
	}
	if len(groups) == 0 {
		return ""
	}
	systems := make([]string, 0, len(groups))
	for s := range groups {
		systems = append(systems, s)
	}
	sort.Slice(systems, func(i, j int) bool {
		pi, iKnown := telecomPriority[systems[i]]
		pj, jKnown := telecomPriority[systems[j]]
		switch {
		case iKnown && jKnown:
			return pi < pj
		case iKnown != jKnown:
			return iKnown
		default:
			return systems[i] < systems[j]
		}
	})

	var b strings.Builder
	for _, system := range systems {
		values := groups[system]
		if system == "phone" || system == "sms" || system == "fax" {
			values = format.DedupePhones(values)
		} else {
			values = uniqueStrings(values)
		}
		escaped := make([]string, len(values))
		for i, v := range values {
			escaped[i] = u.Text(v)
		}
		b.WriteString(fmt.Sprintf("<li><strong>%s:</strong> %s</li>", u.Text(format.Capitalize(system)), strings.Join(escaped, ", ")))
	}
	return b.String()
}

func patientAddresses(u *format.Utilities, p fhir.Resource, threshold float64) []string {
	var raw []string
	for _, a := range fhir.GetMaps(p, "address") {
		if s := addressText(a); s != "" {
			raw = append(raw, s)
		}
	}
	deduped := format.DedupeAddresses(raw, threshold)
	out := make([]string, len(deduped))
	for i, s := range deduped {
		out[i] = u.Text(s)
	}
	return out
}

// addressText renders an Address as its text, else "lines, city, country".
func addressText(a map[string]interface{}) string {
	if s := strings.TrimSpace(fhir.GetString(a, "text")); s != "" {
		return s
	}
	var parts []string
	for _, line := range fhir.GetStrings(a, "line") {
		if line = strings.TrimSpace(line); line != "" {
			parts = append(parts, line)
		}
	}
	for _, key := range []string{"city", "country"} {
		if s := strings.TrimSpace(fhir.GetString(a, key)); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

func deceased(u *format.Utilities, p fhir.Resource) string {
	if b, ok := fhir.GetBool(p, "deceasedBoolean"); ok {
		if b {
			return "Yes"
		}
		return "No"
	}
	return u.RenderDate(fhir.GetString(p, "deceasedDateTime"))
}

func patientLanguages(u *format.Utilities, p fhir.Resource) []string {
	var out []string
	for _, c := range fhir.GetMaps(p, "communication") {
		lang := u.CodeableConcept(fhir.GetMap(c, "language"), "")
		if lang == "" {
			continue
		}
		if preferred, _ := fhir.GetBool(c, "preferred"); preferred {
			lang += " (preferred)"
		}
		out = append(out, lang)
	}
	return out
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}
