package narrative

import (
	"fmt"
	"strings"

	"github.com/ehr/ips/internal/ips/format"
	"github.com/ehr/ips/internal/platform/fhir"
)

var labHeaders = []string{"Test", "Result", "Unit", "Reference Range", "Interpretation", "Date", "Status"}

var pregnancyDisplays = map[string]string{
	"LA15173-0": "Pregnant",
	"LA26683-5": "Not pregnant",
	"LA4489-6":  "Unknown",
}

const (
	systolicLOINC  = "8480-6"
	diastolicLOINC = "8462-4"
)

// ---------------------------------------------------------------------------
// Results
// ---------------------------------------------------------------------------

func renderResults(env Env, records []fhir.Resource) (string, error) {
	var observations, reports []fhir.Resource
	for _, r := range records {
		switch fhir.ResourceType(r) {
		case "Observation":
			observations = append(observations, r)
		case "DiagnosticReport":
			reports = append(reports, r)
		}
	}
	var b strings.Builder
	if len(observations) > 0 {
		b.WriteString("<h5>Diagnostic Results: Observations</h5>")
		writeLabPanels(&b, env, observations)
	}
	if len(reports) > 0 {
		writeDiagnosticReports(&b, env, reports)
	}
	return b.String(), nil
}

// writeLabPanels groups observations under the panels that reference them
// through hasMember. Observations outside any panel are listed under
// "Individual Laboratory Tests".
func writeLabPanels(b *strings.Builder, env Env, observations []fhir.Resource) {
	u := env.U
	members := make(map[string]bool)
	var panels []fhir.Resource
	for _, obs := range observations {
		refs := fhir.GetMaps(obs, "hasMember")
		if len(refs) == 0 {
			continue
		}
		panels = append(panels, obs)
		for _, ref := range refs {
			if target := u.Resolve(fhir.GetString(ref, "reference")); target != nil {
				members[fhir.Key(target)] = true
			}
		}
	}

	for _, panel := range format.SortByDateDesc(panels, "effective", "issued") {
		var rows []fhir.Resource
		for _, ref := range fhir.GetMaps(panel, "hasMember") {
			if target := u.Resolve(fhir.GetString(ref, "reference")); target != nil {
				rows = append(rows, target)
			}
		}
		t := format.Table{
			Heading:    u.CodeableConcept(fhir.GetMap(panel, "code"), ""),
			HeadingTag: "h6",
			Headers:    labHeaders,
		}
		for _, obs := range format.SortByDateDesc(rows, "effective", "issued") {
			t.Rows = append(t.Rows, labRow(env, obs))
		}
		t.Write(b)
	}

	var singles []fhir.Resource
	for _, obs := range observations {
		if len(fhir.GetMaps(obs, "hasMember")) > 0 || members[fhir.Key(obs)] {
			continue
		}
		singles = append(singles, obs)
	}
	if len(singles) == 0 {
		return
	}
	t := format.Table{Heading: "Individual Laboratory Tests", HeadingTag: "h6", Headers: labHeaders}
	for _, obs := range format.SortByDateDesc(singles, "effective", "issued") {
		t.Rows = append(t.Rows, labRow(env, obs))
	}
	t.Write(b)
}

func labRow(env Env, obs fhir.Resource) format.Row {
	u := env.U
	return format.Row{
		ID: u.NarrativeLinkID(obs),
		Cells: []string{
			u.CodeableConcept(fhir.GetMap(obs, "code"), ""),
			u.ObservationValue(obs, env.TZ),
			u.ObservationUnit(obs),
			u.ConcatReferenceRange(fhir.GetMaps(obs, "referenceRange")),
			u.ConcatCodeableConcept(fhir.GetMaps(obs, "interpretation")),
			u.RenderChoice(obs, "effective", env.TZ),
			u.Text(fhir.GetString(obs, "status")),
		},
	}
}

func writeDiagnosticReports(b *strings.Builder, env Env, reports []fhir.Resource) {
	u := env.U
	t := format.Table{
		Heading: "Diagnostic Results: Diagnostic Reports",
		Headers: []string{"Report", "Status", "Category", "Result", "Issued"},
	}
	for _, r := range format.SortByDateDesc(reports, "issued", "effective") {
		result := ""
		if n := len(fhir.GetArray(r, "result")); n == 1 {
			result = "1 result"
		} else if n > 1 {
			result = fmt.Sprintf("%d results", n)
		}
		t.Rows = append(t.Rows, format.Row{
			ID: u.NarrativeLinkID(r),
			Cells: []string{
				u.CodeableConcept(fhir.GetMap(r, "code"), ""),
				u.Text(fhir.GetString(r, "status")),
				u.ConcatCodeableConcept(fhir.GetMaps(r, "category")),
				result,
				u.RenderTime(fhir.GetString(r, "issued"), env.TZ),
			},
		})
	}
	t.Write(b)
}

// ---------------------------------------------------------------------------
// Vital signs
// ---------------------------------------------------------------------------

func renderVitalSigns(env Env, records []fhir.Resource) (string, error) {
	u := env.U
	t := format.Table{
		Heading: "Vital Signs",
		Headers: []string{"Code", "Result", "Unit", "Interpretation", "Component(s)", "Comments", "Date"},
	}
	for _, r := range format.SortByDateDesc(records, "effective") {
		value, unit := vitalValue(env, r)
		t.Rows = append(t.Rows, format.Row{
			ID: u.NarrativeLinkID(r),
			Cells: []string{
				u.CodeableConcept(fhir.GetMap(r, "code"), ""),
				value,
				unit,
				u.ConcatCodeableConcept(fhir.GetMaps(r, "interpretation")),
				u.RenderComponents(fhir.GetMaps(r, "component"), env.TZ),
				u.RenderNotes(fhir.GetMaps(r, "note"), env.TZ, false),
				u.RenderChoice(r, "effective", env.TZ),
			},
		})
	}
	return t.String(), nil
}

// vitalValue renders the value of a vital sign. A blood pressure panel
// without its own value reads systolic over diastolic from its components.
func vitalValue(env Env, r fhir.Resource) (value, unit string) {
	u := env.U
	if v := u.ObservationValue(r, env.TZ); v != "" {
		return v, u.ObservationUnit(r)
	}
	var systolic, diastolic fhir.Resource
	for _, c := range fhir.GetMaps(r, "component") {
		code := fhir.GetMap(c, "code")
		switch {
		case fhir.HasCoding(code, "", systolicLOINC):
			systolic = c
		case fhir.HasCoding(code, "", diastolicLOINC):
			diastolic = c
		}
	}
	if systolic == nil || diastolic == nil {
		return "", ""
	}
	num, den := u.ObservationValue(systolic, env.TZ), u.ObservationValue(diastolic, env.TZ)
	if num == "" || den == "" {
		return "", ""
	}
	return num + "/" + den, u.ObservationUnit(systolic)
}

// ---------------------------------------------------------------------------
// Social history
// ---------------------------------------------------------------------------

func renderSocialHistory(env Env, records []fhir.Resource) (string, error) {
	u := env.U
	t := format.Table{
		Heading: "Social History",
		Headers: []string{"Code", "Result", "Unit", "Comments", "Date"},
	}
	for _, r := range format.SortByDateDesc(records, "effective") {
		t.Rows = append(t.Rows, format.Row{
			ID: u.NarrativeLinkID(r),
			Cells: []string{
				u.CodeableConcept(fhir.GetMap(r, "code"), ""),
				u.ObservationValue(r, env.TZ),
				u.ObservationUnit(r),
				u.RenderNotes(fhir.GetMaps(r, "note"), env.TZ, false),
				u.RenderChoice(r, "effective", env.TZ),
			},
		})
	}
	return t.String(), nil
}

// ---------------------------------------------------------------------------
// Pregnancy
// ---------------------------------------------------------------------------

func renderPregnancy(env Env, records []fhir.Resource) (string, error) {
	u := env.U
	t := format.Table{
		Heading: "History of Pregnancies",
		Headers: []string{"Code", "Result", "Comments", "Date"},
	}
	for _, r := range format.SortByDateDesc(records, "effective") {
		t.Rows = append(t.Rows, format.Row{
			ID: u.NarrativeLinkID(r),
			Cells: []string{
				u.CodeableConcept(fhir.GetMap(r, "code"), ""),
				pregnancyResult(env, r),
				u.RenderNotes(fhir.GetMaps(r, "note"), env.TZ, false),
				u.RenderChoice(r, "effective", env.TZ),
			},
		})
	}
	return t.String(), nil
}

func pregnancyResult(env Env, r fhir.Resource) string {
	for _, c := range fhir.Codings(fhir.GetMap(r, "valueCodeableConcept")) {
		if display, ok := pregnancyDisplays[fhir.GetString(c, "code")]; ok {
			return display
		}
	}
	value := env.U.ObservationValue(r, env.TZ)
	if unit := env.U.ObservationUnit(r); unit != "" && value != "" {
		value += " " + unit
	}
	return value
}

// ---------------------------------------------------------------------------
// Functional status
// ---------------------------------------------------------------------------

func renderFunctionalStatus(env Env, records []fhir.Resource) (string, error) {
	u := env.U
	t := format.Table{
		Heading: "Functional Status",
		Headers: []string{"Assessment", "Status", "Finding", "Comments", "Date"},
	}
	for _, r := range format.SortByDateDesc(records, "effective", "date") {
		var finding, date string
		impression := fhir.IsType(r, "ClinicalImpression")
		if impression {
			finding = impressionFinding(u, r)
			if date = u.RenderChoice(r, "effective", env.TZ); date == "" {
				date = u.RenderTime(fhir.GetString(r, "date"), env.TZ)
			}
		} else {
			finding = u.ObservationValue(r, env.TZ)
			if unit := u.ObservationUnit(r); unit != "" && finding != "" {
				finding += " " + unit
			}
			date = u.RenderChoice(r, "effective", env.TZ)
		}
		assessment := u.CodeableConcept(fhir.GetMap(r, "code"), "")
		if assessment == "" {
			assessment = u.Text(fhir.GetString(r, "description"))
		}
		t.Rows = append(t.Rows, format.Row{
			ID: u.NarrativeLinkID(r),
			Cells: []string{
				assessment,
				u.Text(fhir.GetString(r, "status")),
				finding,
				u.RenderNotes(fhir.GetMaps(r, "note"), env.TZ, impression),
				date,
			},
		})
	}
	return t.String(), nil
}

// impressionFinding renders the summary of a ClinicalImpression, or its
// findings as a list.
func impressionFinding(u *format.Utilities, r fhir.Resource) string {
	if s := fhir.GetString(r, "summary"); s != "" {
		return u.Text(s)
	}
	var items []string
	for _, f := range fhir.GetMaps(r, "finding") {
		item := u.CodeableConcept(fhir.GetMap(f, "itemCodeableConcept"), "")
		if item == "" {
			item = u.RenderReference(fhir.GetMap(f, "itemReference"))
		}
		if item != "" {
			items = append(items, "<li>"+item+"</li>")
		}
	}
	if len(items) == 0 {
		return ""
	}
	return "<ul>" + strings.Join(items, "") + "</ul>"
}
