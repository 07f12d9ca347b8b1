package fhir

import (
	"encoding/json"
	"testing"
)

func TestResource_Identity(t *testing.T) {
	r := Resource{"resourceType": "Patient", "id": "test-123"}

	if ResourceType(r) != "Patient" {
		t.Errorf("expected Patient, got %q", ResourceType(r))
	}
	if ResourceID(r) != "test-123" {
		t.Errorf("expected test-123, got %q", ResourceID(r))
	}
	if Key(r) != "Patient/test-123" {
		t.Errorf("expected Patient/test-123, got %q", Key(r))
	}
	if Key(Resource{"resourceType": "Patient"}) != "" {
		t.Error("expected empty key for resource without id")
	}
	if !IsType(r, "Condition", "Patient") {
		t.Error("expected IsType to match Patient")
	}
}

func TestParseReference(t *testing.T) {
	cases := map[string][2]string{
		"Patient/p1":                              {"Patient", "p1"},
		"https://example.org/fhir/Observation/o1": {"Observation", "o1"},
		"Medication/m1/_history/3":                {"Medication", "m1"},
	}
	for ref, want := range cases {
		typ, id, ok := ParseReference(ref)
		if !ok {
			t.Fatalf("expected %q to parse", ref)
		}
		if typ != want[0] || id != want[1] {
			t.Errorf("%q: expected %s/%s, got %s/%s", ref, want[0], want[1], typ, id)
		}
	}
	for _, bad := range []string{"", "#contained", "Patient"} {
		if _, _, ok := ParseReference(bad); ok {
			t.Errorf("expected %q to be rejected", bad)
		}
	}
}

func TestGetString_FormatsNumbers(t *testing.T) {
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(`{"a":"x","n":5,"f":1.5,"o":{"k":1}}`), &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if GetString(m, "a") != "x" {
		t.Errorf("expected x, got %q", GetString(m, "a"))
	}
	if GetString(m, "n") != "5" {
		t.Errorf("expected 5, got %q", GetString(m, "n"))
	}
	if GetString(m, "f") != "1.5" {
		t.Errorf("expected 1.5, got %q", GetString(m, "f"))
	}
	if GetString(m, "o") != "" {
		t.Errorf("expected objects to yield empty string, got %q", GetString(m, "o"))
	}
	if GetString(m, "missing") != "" {
		t.Error("expected empty string for missing key")
	}
}

func TestPath(t *testing.T) {
	obs := map[string]interface{}{
		"valueRatio": map[string]interface{}{
			"numerator": map[string]interface{}{"value": 120.0},
		},
	}
	if v, ok := Path(obs, "valueRatio.numerator.value").(float64); !ok || v != 120 {
		t.Errorf("expected 120, got %v", Path(obs, "valueRatio.numerator.value"))
	}
	if Path(obs, "valueRatio.denominator.value") != nil {
		t.Error("expected nil for missing path")
	}
}

func TestHasCoding(t *testing.T) {
	cc := map[string]interface{}{
		"coding": []interface{}{
			map[string]interface{}{"system": "http://loinc.org", "code": "8480-6"},
		},
	}
	if !HasCoding(cc, "http://loinc.org", "8480-6") {
		t.Error("expected system+code match")
	}
	if !HasCoding(cc, "", "8480-6") {
		t.Error("expected code-only match")
	}
	if HasCoding(cc, "http://snomed.info/sct", "8480-6") {
		t.Error("expected system mismatch to fail")
	}
}

func TestOperationOutcome(t *testing.T) {
	oo := ErrorOutcome("boom")
	if oo.ResourceType != "OperationOutcome" {
		t.Errorf("expected OperationOutcome, got %s", oo.ResourceType)
	}
	if len(oo.Issue) != 1 || oo.Issue[0].Diagnostics != "boom" || oo.Issue[0].Code != "processing" {
		t.Errorf("unexpected issue: %+v", oo.Issue)
	}
	nf := NotFoundOutcome("Patient", "p1")
	if nf.Issue[0].Diagnostics != "Patient/p1 not found" {
		t.Errorf("unexpected diagnostics: %s", nf.Issue[0].Diagnostics)
	}
}
