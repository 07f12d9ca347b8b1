package section

import (
	"fmt"
	"strings"

	"github.com/ehr/ips/internal/platform/fhir"
)

const (
	// LOINCSystem is the code system of section and document codes.
	LOINCSystem = "http://loinc.org"
	// PatientSummaryLOINC is the document type of an IPS Composition.
	PatientSummaryLOINC = "60591-5"
	// PatientSummaryDisplay is the display of PatientSummaryLOINC.
	PatientSummaryDisplay = "Patient summary Document"
	// SummaryCodeSystem identifies per-section summary Compositions.
	SummaryCodeSystem = "https://fhir.icanbwell.com/4_0_0/CodeSystem/composition/"
)

// Definition describes one section kind.
type Definition struct {
	Kind        Kind
	Title       string
	LOINC       string
	Mandatory   bool
	Placeholder string
	SummaryCode string
	Match       func(fhir.Resource) bool
}

// Registry holds the section definitions. It is read-only after
// construction and safe for concurrent use.
type Registry struct {
	defs          map[Kind]Definition
	byLOINC       map[string]Kind
	bySummaryCode map[string]Kind
}

// NewRegistry returns a registry with the standard IPS sections.
func NewRegistry() *Registry {
	return NewRegistryFrom(DefaultDefinitions())
}

// NewRegistryFrom builds a registry from defs. Later definitions of the
// same kind replace earlier ones.
func NewRegistryFrom(defs []Definition) *Registry {
	r := &Registry{
		defs:          make(map[Kind]Definition, len(defs)),
		byLOINC:       make(map[string]Kind, len(defs)),
		bySummaryCode: make(map[string]Kind, len(defs)),
	}
	for _, d := range defs {
		r.defs[d.Kind] = d
		if d.LOINC != "" {
			r.byLOINC[d.LOINC] = d.Kind
		}
		if d.SummaryCode != "" {
			r.bySummaryCode[d.SummaryCode] = d.Kind
		}
	}
	return r
}

// Definition returns the definition of k.
func (r *Registry) Definition(k Kind) (Definition, error) {
	d, ok := r.defs[k]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %s", ErrUnknownKind, k)
	}
	return d, nil
}

// Kinds returns the registered kinds in Composition order.
func (r *Registry) Kinds() []Kind {
	out := make([]Kind, 0, len(r.defs))
	for _, k := range Kinds() {
		if _, ok := r.defs[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// Mandatory returns the kinds every IPS document must carry.
func (r *Registry) Mandatory() []Kind {
	var out []Kind
	for _, k := range r.Kinds() {
		if r.defs[k].Mandatory {
			out = append(out, k)
		}
	}
	return out
}

// KindForLOINC returns the kind whose section code is code.
func (r *Registry) KindForLOINC(code string) (Kind, bool) {
	k, ok := r.byLOINC[code]
	return k, ok
}

// KindForSummaryCode returns the kind whose summary Composition type code is code.
func (r *Registry) KindForSummaryCode(code string) (Kind, bool) {
	k, ok := r.bySummaryCode[code]
	return k, ok
}

// SectionCode builds the LOINC CodeableConcept of a section.
func (d Definition) SectionCode() map[string]interface{} {
	return map[string]interface{}{
		"coding": []interface{}{
			map[string]interface{}{
				"system":  LOINCSystem,
				"code":    d.LOINC,
				"display": d.Title,
			},
		},
	}
}

// DefaultDefinitions returns the standard IPS section table.
func DefaultDefinitions() []Definition {
	return []Definition{
		{Kind: Patient, Title: "Patient summary Document", LOINC: "54126-4", Mandatory: true,
			Match: isType("Patient")},
		{Kind: Problems, Title: "Problem List", LOINC: "11450-4", Mandatory: true,
			Placeholder: "There is no information available about the subject's health problems or disabilities.",
			SummaryCode: "condition_summary_document", Match: isActiveProblem},
		{Kind: Allergies, Title: "Allergies and Intolerances", LOINC: "48765-2", Mandatory: true,
			Placeholder: "There is no information available regarding the subject's allergy conditions.",
			SummaryCode: "allergy_summary_document", Match: isType("AllergyIntolerance")},
		{Kind: Medications, Title: "Medication Summary", LOINC: "10160-0", Mandatory: true,
			Placeholder: "There is no information available about the subject's medication use or administration.",
			SummaryCode: "medication_summary_document", Match: isType("MedicationRequest", "MedicationStatement")},
		{Kind: Immunizations, Title: "Immunizations", LOINC: "11369-6",
			SummaryCode: "immunization_summary_document", Match: isType("Immunization")},
		{Kind: Results, Title: "Results Summary", LOINC: "30954-2",
			SummaryCode: "result_summary_document", Match: isResult},
		{Kind: Procedures, Title: "History of Procedures", LOINC: "47519-4",
			SummaryCode: "procedure_summary_document", Match: isType("Procedure")},
		{Kind: MedicalDevices, Title: "History of Medical Devices", LOINC: "46264-8",
			SummaryCode: "device_summary_document", Match: isType("DeviceUseStatement")},
		{Kind: AdvanceDirectives, Title: "Advance Directives", LOINC: "42348-3",
			SummaryCode: "advance_directive_summary_document", Match: isType("Consent")},
		{Kind: FunctionalStatus, Title: "Functional Status", LOINC: "47420-5",
			SummaryCode: "functional_status_summary_document", Match: isFunctionalStatus},
		{Kind: Pregnancy, Title: "History of Pregnancies", LOINC: "10162-6",
			SummaryCode: "pregnancy_summary_document", Match: isPregnancy},
		{Kind: PlanOfCare, Title: "Plan of Care", LOINC: "18776-5",
			SummaryCode: "careplan_summary_document", Match: isType("CarePlan")},
		{Kind: PastIllness, Title: "History of Past Illness", LOINC: "11348-0",
			SummaryCode: "past_illness_summary_document", Match: isPastIllness},
		{Kind: SocialHistory, Title: "Social History", LOINC: "29762-2",
			SummaryCode: "social_history_summary_document", Match: isSocialHistory},
		{Kind: VitalSigns, Title: "Vital Signs", LOINC: "8716-3",
			SummaryCode: "vital_summary_document", Match: isVitalSign},
		{Kind: FamilyHistory, Title: "History of Family Member Diseases", LOINC: "10157-6",
			SummaryCode: "family_history_summary_document", Match: isType("FamilyMemberHistory")},
	}
}

// PlaceholderMarkup renders the placeholder text as a paragraph.
func (d Definition) PlaceholderMarkup() string {
	if d.Placeholder == "" {
		return ""
	}
	return "<p>" + d.Placeholder + "</p>"
}

// MissingNames renders kinds as a comma separated list of IDs.
func MissingNames(kinds []Kind) string {
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.ID()
	}
	return strings.Join(names, ", ")
}
