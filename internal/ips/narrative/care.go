package narrative

import (
	"github.com/ehr/ips/internal/ips/format"
	"github.com/ehr/ips/internal/platform/fhir"
)

// ---------------------------------------------------------------------------
// Medical devices
// ---------------------------------------------------------------------------

func renderDevices(env Env, records []fhir.Resource) (string, error) {
	u := env.U
	t := format.Table{
		Heading: "History of Medical Devices",
		Headers: []string{"Device", "Status", "Comments", "Date Recorded"},
	}
	for _, r := range format.SortByDateDesc(records, "recordedOn", "timing") {
		t.Rows = append(t.Rows, format.Row{
			ID: u.NarrativeLinkID(r),
			Cells: []string{
				u.RenderDevice(r, fhir.GetMap(r, "device")),
				u.Text(fhir.GetString(r, "status")),
				u.RenderNotes(fhir.GetMaps(r, "note"), env.TZ, false),
				u.RenderTime(fhir.GetString(r, "recordedOn"), env.TZ),
			},
		})
	}
	return t.String(), nil
}

// ---------------------------------------------------------------------------
// Advance directives
// ---------------------------------------------------------------------------

func renderAdvanceDirectives(env Env, records []fhir.Resource) (string, error) {
	u := env.U
	t := format.Table{
		Heading: "Advance Directives",
		Headers: []string{"Scope", "Status", "Action Controlled", "Date"},
	}
	for _, r := range format.SortByDateDesc(records, "dateTime") {
		t.Rows = append(t.Rows, format.Row{
			ID: u.NarrativeLinkID(r),
			Cells: []string{
				u.CodeableConcept(fhir.GetMap(r, "scope"), ""),
				u.Text(fhir.GetString(r, "status")),
				u.ConcatCodeableConcept(fhir.GetMaps(fhir.GetMap(r, "provision"), "action")),
				u.RenderTime(fhir.GetString(r, "dateTime"), env.TZ),
			},
		})
	}
	return t.String(), nil
}

// ---------------------------------------------------------------------------
// Plan of care
// ---------------------------------------------------------------------------

func renderPlanOfCare(env Env, records []fhir.Resource) (string, error) {
	u := env.U
	t := format.Table{
		Heading: "Plan of Care",
		Headers: []string{"Activity", "Intent", "Comments", "Planned Start", "Planned End"},
	}
	for _, r := range format.SortByDateDesc(records, "period") {
		period := fhir.GetMap(r, "period")
		t.Rows = append(t.Rows, format.Row{
			ID: u.NarrativeLinkID(r),
			Cells: []string{
				carePlanActivity(u, r),
				u.Text(fhir.GetString(r, "intent")),
				u.RenderNotes(fhir.GetMaps(r, "note"), env.TZ, false),
				u.RenderTime(fhir.GetString(period, "start"), env.TZ),
				u.RenderTime(fhir.GetString(period, "end"), env.TZ),
			},
		})
	}
	return t.String(), nil
}

// carePlanActivity prefers the plan description, then its title, then the
// codes of its planned activities.
func carePlanActivity(u *format.Utilities, r fhir.Resource) string {
	if s := fhir.GetString(r, "description"); s != "" {
		return u.Text(s)
	}
	if s := fhir.GetString(r, "title"); s != "" {
		return u.Text(s)
	}
	var codes []map[string]interface{}
	for _, a := range fhir.GetMaps(r, "activity") {
		if cc := fhir.GetMap(fhir.GetMap(a, "detail"), "code"); cc != nil {
			codes = append(codes, cc)
		}
	}
	return u.ConcatCodeableConcept(codes)
}

// ---------------------------------------------------------------------------
// Family history
// ---------------------------------------------------------------------------

func renderFamilyHistory(env Env, records []fhir.Resource) (string, error) {
	u := env.U
	t := format.Table{
		Heading: "History of Family Member Diseases",
		Headers: []string{"Relationship", "Condition", "Status", "Onset", "Notes"},
	}
	for _, r := range format.SortByDateDesc(records, "date") {
		id := u.NarrativeLinkID(r)
		relationship := u.CodeableConcept(fhir.GetMap(r, "relationship"), "")
		status := u.Text(fhir.GetString(r, "status"))
		notes := fhir.GetMaps(r, "note")

		conditions := fhir.GetMaps(r, "condition")
		if len(conditions) == 0 {
			t.Rows = append(t.Rows, format.Row{
				ID:    id,
				Cells: []string{relationship, "Not specified", status, "", u.RenderNotes(notes, env.TZ, true)},
			})
			continue
		}
		for _, c := range conditions {
			// Condition notes first, then the notes on the whole history.
			all := append(fhir.GetMaps(c, "note"), notes...)
			condNotes := u.RenderNotes(all, env.TZ, true)
			t.Rows = append(t.Rows, format.Row{
				ID: id,
				Cells: []string{
					relationship,
					u.CodeableConcept(fhir.GetMap(c, "code"), ""),
					status,
					u.RenderChoice(c, "onset", env.TZ),
					condNotes,
				},
			})
		}
	}
	return t.String(), nil
}
