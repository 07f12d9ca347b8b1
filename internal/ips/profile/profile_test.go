package profile

import (
	"testing"

	"github.com/ehr/ips/internal/ips/section"
	"github.com/ehr/ips/internal/platform/fhir"
)

func TestMissing_Patient(t *testing.T) {
	p, ok := NewRegistry().Profile(section.Patient)
	if !ok {
		t.Fatal("expected a Patient profile")
	}
	res := fhir.Resource{
		"resourceType": "Patient",
		"id":           "p1",
		"name":         []interface{}{map[string]interface{}{"family": "Doe"}},
		"identifier":   []interface{}{},
		"gender":       "",
	}
	missing := p.Missing(res)
	want := []string{"identifier", "gender", "birthDate"}
	if len(missing) != len(want) {
		t.Fatalf("expected %v, got %v", want, missing)
	}
	for i := range want {
		if missing[i] != want[i] {
			t.Errorf("missing[%d]: expected %q, got %q", i, want[i], missing[i])
		}
	}
}

func TestMissing_ChoiceElements(t *testing.T) {
	p, _ := NewRegistry().Profile(section.Immunizations)
	res := fhir.Resource{
		"resourceType":       "Immunization",
		"status":             "completed",
		"vaccineCode":        map[string]interface{}{"text": "MMR"},
		"patient":            map[string]interface{}{"reference": "Patient/p1"},
		"occurrenceDateTime": "2020-01-01",
	}
	if missing := p.Missing(res); len(missing) != 0 {
		t.Errorf("expected occurrenceDateTime to satisfy occurrence, got %v", missing)
	}
	delete(res, "occurrenceDateTime")
	res["occurrences"] = "x"
	if missing := p.Missing(res); len(missing) != 1 {
		t.Errorf("expected lowercase suffix not to match, got %v", missing)
	}
}

func TestCheck(t *testing.T) {
	reg := NewRegistry()
	records := []fhir.Resource{
		{"resourceType": "MedicationStatement", "id": "m2", "status": "active"},
		{"resourceType": "MedicationRequest", "id": "r1"},
		{"resourceType": "MedicationStatement", "id": "m1", "status": "active",
			"medicationCodeableConcept": map[string]interface{}{"text": "Aspirin"},
			"subject":                   map[string]interface{}{"reference": "Patient/p1"}},
		{"resourceType": "MedicationStatement", "id": "m0"},
	}
	gaps := reg.Check(section.Medications, records)
	if len(gaps) != 2 {
		t.Fatalf("expected 2 gaps, got %+v", gaps)
	}
	if gaps[0].Key != "MedicationStatement/m0" || gaps[1].Key != "MedicationStatement/m2" {
		t.Errorf("unexpected gap order %+v", gaps)
	}
	if len(gaps[1].Missing) != 2 {
		t.Errorf("expected medication and subject missing, got %v", gaps[1].Missing)
	}
	if reg.Check(section.Procedures, records) != nil {
		t.Error("expected no gaps for a kind without a profile")
	}
}
