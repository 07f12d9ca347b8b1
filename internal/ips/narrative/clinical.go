package narrative

import (
	"strings"

	"github.com/ehr/ips/internal/ips/format"
	"github.com/ehr/ips/internal/platform/fhir"
)

// ---------------------------------------------------------------------------
// Allergies
// ---------------------------------------------------------------------------

func renderAllergies(env Env, records []fhir.Resource) (string, error) {
	u := env.U
	t := format.Table{
		Heading: "Allergies and Intolerances",
		Headers: []string{"Allergen", "Status", "Category", "Reaction", "Severity", "Comments", "Onset"},
	}
	for _, r := range format.SortByDateDesc(records, "onset", "recordedDate") {
		reactions := fhir.GetMaps(r, "reaction")
		onset := u.RenderChoice(r, "onset", env.TZ)
		if onset == "" {
			onset = u.RenderTime(fhir.GetString(r, "recordedDate"), env.TZ)
		}
		t.Rows = append(t.Rows, format.Row{
			ID: u.NarrativeLinkID(r),
			Cells: []string{
				u.CodeableConcept(fhir.GetMap(r, "code"), ""),
				u.CodeableConcept(fhir.GetMap(r, "clinicalStatus"), "code"),
				u.Concat(fhir.GetArray(r, "category"), ""),
				u.ConcatReactionManifestation(reactions),
				u.ConcatReactionSeverity(reactions),
				u.RenderNotes(fhir.GetMaps(r, "note"), env.TZ, false),
				onset,
			},
		})
	}
	return t.String(), nil
}

// ---------------------------------------------------------------------------
// Problems and past illness
// ---------------------------------------------------------------------------

func renderProblems(env Env, records []fhir.Resource) (string, error) {
	return conditionTable(env, records, "Problem List", "Onset Date", "onset"), nil
}

func renderPastIllness(env Env, records []fhir.Resource) (string, error) {
	return conditionTable(env, records, "History of Past Illness", "Date", "abatement", "onset"), nil
}

// conditionTable renders conditions with the first date found among the
// given choice prefixes, falling back to recordedDate.
func conditionTable(env Env, records []fhir.Resource, heading, dateHeader string, dateFields ...string) string {
	u := env.U
	t := format.Table{
		Heading: heading,
		Headers: []string{"Medical Problems", "Status", "Comments", dateHeader},
	}
	for _, r := range format.SortByDateDesc(records, append(dateFields, "recordedDate")...) {
		date := ""
		for _, f := range dateFields {
			if date = u.RenderChoice(r, f, env.TZ); date != "" {
				break
			}
		}
		if date == "" {
			date = u.RenderTime(fhir.GetString(r, "recordedDate"), env.TZ)
		}
		t.Rows = append(t.Rows, format.Row{
			ID: u.NarrativeLinkID(r),
			Cells: []string{
				u.CodeableConceptWithCode(fhir.GetMap(r, "code")),
				u.CodeableConcept(fhir.GetMap(r, "clinicalStatus"), "code"),
				u.RenderNotes(fhir.GetMaps(r, "note"), env.TZ, false),
				date,
			},
		})
	}
	return t.String()
}

// ---------------------------------------------------------------------------
// Medications
// ---------------------------------------------------------------------------

func renderMedications(env Env, records []fhir.Resource) (string, error) {
	u := env.U
	var requests, statements []fhir.Resource
	for _, r := range records {
		switch fhir.ResourceType(r) {
		case "MedicationRequest":
			requests = append(requests, r)
		case "MedicationStatement":
			statements = append(statements, r)
		}
	}

	var b strings.Builder
	if len(requests) > 0 {
		t := format.Table{
			Heading: "Medication Summary: Medication Requests",
			Headers: []string{"Medication", "Status", "Route", "Sig", "Comments", "Authored Date"},
		}
		for _, r := range format.SortByDateDesc(requests, "authoredOn") {
			dosage := fhir.GetMaps(r, "dosageInstruction")
			t.Rows = append(t.Rows, format.Row{
				ID: u.NarrativeLinkID(r),
				Cells: []string{
					u.RenderMedication(r),
					u.Text(fhir.GetString(r, "status")),
					u.ConcatDosageRoute(dosage),
					u.ConcatDosageText(dosage),
					u.RenderNotes(fhir.GetMaps(r, "note"), env.TZ, false),
					u.RenderTime(fhir.GetString(r, "authoredOn"), env.TZ),
				},
			})
		}
		t.Write(&b)
	}
	if len(statements) > 0 {
		t := format.Table{
			Heading: "Medication Summary: Medication Statements",
			Headers: []string{"Medication", "Status", "Category", "Route", "Dosage", "Effective", "Date Asserted"},
		}
		for _, r := range format.SortByDateDesc(statements, "effective", "dateAsserted") {
			dosage := fhir.GetMaps(r, "dosage")
			t.Rows = append(t.Rows, format.Row{
				ID: u.NarrativeLinkID(r),
				Cells: []string{
					u.RenderMedication(r),
					u.Text(fhir.GetString(r, "status")),
					u.CodeableConcept(fhir.GetMap(r, "category"), ""),
					u.ConcatDosageRoute(dosage),
					u.ConcatDosageText(dosage),
					u.RenderChoice(r, "effective", env.TZ),
					u.RenderTime(fhir.GetString(r, "dateAsserted"), env.TZ),
				},
			})
		}
		t.Write(&b)
	}
	return b.String(), nil
}

// ---------------------------------------------------------------------------
// Immunizations
// ---------------------------------------------------------------------------

func renderImmunizations(env Env, records []fhir.Resource) (string, error) {
	u := env.U
	t := format.Table{
		Heading: "Immunizations",
		Headers: []string{"Immunization", "Status", "Dose Number", "Manufacturer", "Lot Number", "Comments", "Date"},
	}
	for _, r := range format.SortByDateDesc(records, "occurrence") {
		t.Rows = append(t.Rows, format.Row{
			ID: u.NarrativeLinkID(r),
			Cells: []string{
				u.CodeableConceptWithCode(fhir.GetMap(r, "vaccineCode")),
				u.Text(fhir.GetString(r, "status")),
				u.ConcatDoseNumber(fhir.GetMaps(r, "protocolApplied")),
				u.RenderOrganization(fhir.GetMap(r, "manufacturer")),
				u.Text(fhir.GetString(r, "lotNumber")),
				u.RenderNotes(fhir.GetMaps(r, "note"), env.TZ, false),
				u.RenderChoice(r, "occurrence", env.TZ),
			},
		})
	}
	return t.String(), nil
}

// ---------------------------------------------------------------------------
// Procedures
// ---------------------------------------------------------------------------

func renderProcedures(env Env, records []fhir.Resource) (string, error) {
	u := env.U
	t := format.Table{
		Heading: "History of Procedures",
		Headers: []string{"Procedure", "Comments", "Date"},
	}
	for _, r := range format.SortByDateDesc(records, "performed") {
		t.Rows = append(t.Rows, format.Row{
			ID: u.NarrativeLinkID(r),
			Cells: []string{
				u.CodeableConcept(fhir.GetMap(r, "code"), ""),
				u.RenderNotes(fhir.GetMaps(r, "note"), env.TZ, false),
				u.RenderChoice(r, "performed", env.TZ),
			},
		})
	}
	return t.String(), nil
}
