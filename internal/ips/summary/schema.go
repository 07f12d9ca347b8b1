// Package summary decodes previously generated summaries back into rows so
// several summaries can be merged into one section narrative.
package summary

import (
	"sort"
	"strings"

	"github.com/ehr/ips/internal/ips/section"
)

// FieldMap is one decoded row, keyed by field label. Values are markup.
type FieldMap map[string]string

// Column is a schema column and the field labels accepted for it, in order
// of preference.
type Column struct {
	Name    string
	Aliases []string
}

// Schema lists the columns rendered for a section kind.
type Schema struct {
	Heading string
	Columns []Column
}

// Headers returns the column names.
func (s Schema) Headers() []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Name
	}
	return out
}

// Cells projects fields onto the schema columns. For each column the first
// non-empty field among its name and aliases is used.
func (s Schema) Cells(fields FieldMap) []string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	normalized := make(map[string]string, len(fields))
	for _, k := range keys {
		key := normalizeLabel(k)
		if normalized[key] == "" {
			normalized[key] = fields[k]
		}
	}
	cells := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		for _, label := range append([]string{c.Name}, c.Aliases...) {
			if v := normalized[normalizeLabel(label)]; v != "" {
				cells[i] = v
				break
			}
		}
	}
	return cells
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func col(name string, aliases ...string) Column {
	return Column{Name: name, Aliases: aliases}
}

var comments = col("Comments", "Notes", "Note", "Comment")

var schemas = map[section.Kind]Schema{
	section.Problems: {Heading: "Problem List", Columns: []Column{
		col("Medical Problems", "Problem", "Condition"),
		col("Status", "Clinical Status"),
		comments,
		col("Onset Date", "Onset", "Date"),
	}},
	section.Allergies: {Heading: "Allergies and Intolerances", Columns: []Column{
		col("Allergen", "Allergy", "Substance", "Code"),
		col("Status", "Clinical Status"),
		col("Category"),
		col("Reaction", "Reactions", "Manifestation"),
		col("Severity"),
		comments,
		col("Onset", "Onset Date", "Recorded Date", "Date"),
	}},
	section.Medications: {Heading: "Medication Summary", Columns: []Column{
		col("Medication", "Medication Name"),
		col("Status"),
		col("Route"),
		col("Sig", "Dosage"),
		comments,
		col("Date", "Authored Date", "Effective", "Recorded Date", "Date Asserted"),
	}},
	section.Immunizations: {Heading: "Immunizations", Columns: []Column{
		col("Immunization", "Vaccine"),
		col("Status"),
		col("Dose Number", "Dose"),
		col("Manufacturer"),
		col("Lot Number", "Lot"),
		comments,
		col("Date", "Occurrence", "Administered Date"),
	}},
	section.Results: {Heading: "Results Summary", Columns: []Column{
		col("Test", "Report", "Code", "Name"),
		col("Result", "Value"),
		col("Unit"),
		col("Reference Range", "Range"),
		col("Interpretation"),
		col("Date", "Effective", "Issued"),
		col("Status"),
	}},
	section.Procedures: {Heading: "History of Procedures", Columns: []Column{
		col("Procedure", "Code"),
		comments,
		col("Date", "Performed"),
	}},
	section.MedicalDevices: {Heading: "History of Medical Devices", Columns: []Column{
		col("Device"),
		col("Status"),
		comments,
		col("Date Recorded", "Recorded", "Date"),
	}},
	section.AdvanceDirectives: {Heading: "Advance Directives", Columns: []Column{
		col("Scope"),
		col("Status"),
		col("Action Controlled", "Action"),
		col("Date"),
	}},
	section.FunctionalStatus: {Heading: "Functional Status", Columns: []Column{
		col("Assessment", "Code"),
		col("Status"),
		col("Finding", "Result", "Value"),
		comments,
		col("Date"),
	}},
	section.Pregnancy: {Heading: "History of Pregnancies", Columns: []Column{
		col("Code"),
		col("Result", "Value"),
		comments,
		col("Date"),
	}},
	section.PlanOfCare: {Heading: "Plan of Care", Columns: []Column{
		col("Activity", "Description", "Title"),
		col("Intent"),
		comments,
		col("Planned Start", "Start"),
		col("Planned End", "End"),
	}},
	section.PastIllness: {Heading: "History of Past Illness", Columns: []Column{
		col("Medical Problems", "Problem", "Condition"),
		col("Status", "Clinical Status"),
		comments,
		col("Date", "Abatement", "Onset Date"),
	}},
	section.SocialHistory: {Heading: "Social History", Columns: []Column{
		col("Code"),
		col("Result", "Value"),
		col("Unit"),
		comments,
		col("Date"),
	}},
	section.VitalSigns: {Heading: "Vital Signs", Columns: []Column{
		col("Code"),
		col("Result", "Value"),
		col("Unit"),
		col("Interpretation"),
		col("Component(s)", "Components"),
		comments,
		col("Date"),
	}},
	section.FamilyHistory: {Heading: "History of Family Member Diseases", Columns: []Column{
		col("Relationship"),
		col("Condition"),
		col("Status"),
		col("Onset"),
		col("Notes", "Comments", "Note"),
	}},
}

// SchemaFor returns the schema of kind.
func SchemaFor(kind section.Kind) (Schema, bool) {
	s, ok := schemas[kind]
	return s, ok
}
