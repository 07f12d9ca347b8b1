// Package profile holds the IPS resource profiles: the fields each section
// record is expected to carry. Records missing mandatory fields are still
// rendered; the gaps are reported so callers can log them.
package profile

import (
	"sort"
	"strings"
	"unicode"

	"github.com/ehr/ips/internal/ips/section"
	"github.com/ehr/ips/internal/platform/fhir"
)

const ipsProfileBase = "http://hl7.org/fhir/uv/ips/StructureDefinition/"

// Profile describes one IPS resource profile.
type Profile struct {
	Kind         section.Kind
	ResourceType string
	Mandatory    []string // element names; choice elements are named without [x]
	Recommended  []string
	LOINC        string
	URL          string
}

// Gap is a record that lacks mandatory fields.
type Gap struct {
	Kind    section.Kind
	Key     string // Type/id of the record
	Missing []string
	URL     string
}

// Registry maps section kinds to profiles. Read-only after construction.
type Registry struct {
	profiles map[section.Kind]Profile
}

// NewRegistry returns the default IPS profiles.
func NewRegistry() *Registry {
	return NewRegistryFrom(DefaultProfiles())
}

// NewRegistryFrom builds a registry from profiles.
func NewRegistryFrom(profiles []Profile) *Registry {
	r := &Registry{profiles: make(map[section.Kind]Profile, len(profiles))}
	for _, p := range profiles {
		r.profiles[p.Kind] = p
	}
	return r
}

// Profile returns the profile registered for kind.
func (r *Registry) Profile(kind section.Kind) (Profile, bool) {
	p, ok := r.profiles[kind]
	return p, ok
}

// Missing lists the mandatory fields res lacks. Records of another type
// than the profile's are not checked.
func (p Profile) Missing(res fhir.Resource) []string {
	if p.ResourceType != "" && !fhir.IsType(res, p.ResourceType) {
		return nil
	}
	var missing []string
	for _, field := range p.Mandatory {
		if !hasField(res, field) {
			missing = append(missing, field)
		}
	}
	return missing
}

// Check returns the gaps of records against the profile of kind, ordered by
// record key.
func (r *Registry) Check(kind section.Kind, records []fhir.Resource) []Gap {
	p, ok := r.profiles[kind]
	if !ok {
		return nil
	}
	var gaps []Gap
	for _, rec := range records {
		if missing := p.Missing(rec); len(missing) > 0 {
			gaps = append(gaps, Gap{Kind: kind, Key: fhir.Key(rec), Missing: missing, URL: p.URL})
		}
	}
	sort.SliceStable(gaps, func(i, j int) bool { return gaps[i].Key < gaps[j].Key })
	return gaps
}

// hasField reports whether res has a non-empty value for field. A field
// also matches its choice forms, e.g. "onset" matches "onsetDateTime".
func hasField(res fhir.Resource, field string) bool {
	if present(res[field]) {
		return true
	}
	for k, v := range res {
		if len(k) > len(field) && strings.HasPrefix(k, field) && unicode.IsUpper(rune(k[len(field)])) && present(v) {
			return true
		}
	}
	return false
}

func present(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return t != ""
	case []interface{}:
		return len(t) > 0
	case map[string]interface{}:
		return len(t) > 0
	}
	return true
}

// DefaultProfiles returns the IPS profiles of the mandatory sections plus
// immunizations, results and vital signs.
func DefaultProfiles() []Profile {
	return []Profile{
		{
			Kind: section.Patient, ResourceType: "Patient",
			Mandatory:   []string{"identifier", "name", "gender", "birthDate"},
			Recommended: []string{"address", "telecom", "communication", "maritalStatus"},
			LOINC:       section.PatientSummaryLOINC, URL: ipsProfileBase + "Patient-uv-ips",
		},
		{
			Kind: section.Allergies, ResourceType: "AllergyIntolerance",
			Mandatory:   []string{"clinicalStatus", "verificationStatus", "code", "patient"},
			Recommended: []string{"reaction", "criticality"},
			LOINC:       "48765-2", URL: ipsProfileBase + "AllergyIntolerance-uv-ips",
		},
		{
			Kind: section.Medications, ResourceType: "MedicationStatement",
			Mandatory:   []string{"status", "medication", "subject"},
			Recommended: []string{"dosage", "reasonCode"},
			LOINC:       "10160-0", URL: ipsProfileBase + "MedicationStatement-uv-ips",
		},
		{
			Kind: section.Problems, ResourceType: "Condition",
			Mandatory:   []string{"clinicalStatus", "verificationStatus", "code", "subject"},
			Recommended: []string{"onset", "recordedDate", "severity"},
			LOINC:       "11450-4", URL: ipsProfileBase + "Condition-uv-ips",
		},
		{
			Kind: section.Immunizations, ResourceType: "Immunization",
			Mandatory:   []string{"status", "vaccineCode", "patient", "occurrence"},
			Recommended: []string{"lotNumber", "manufacturer", "doseQuantity"},
			LOINC:       "11369-6", URL: ipsProfileBase + "Immunization-uv-ips",
		},
		{
			Kind: section.Results, ResourceType: "Observation",
			Mandatory:   []string{"status", "category", "code", "subject", "effective", "value"},
			Recommended: []string{"interpretation", "referenceRange"},
			LOINC:       "26436-6", URL: ipsProfileBase + "Observation-results-uv-ips",
		},
		{
			Kind: section.VitalSigns, ResourceType: "Observation",
			Mandatory:   []string{"status", "category", "code", "subject", "effective", "value"},
			Recommended: []string{"component"},
			LOINC:       "8716-3", URL: ipsProfileBase + "Observation-vitalsigns-uv-ips",
		},
	}
}
