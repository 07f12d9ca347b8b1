package builder

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/ehr/ips/internal/ips/section"
	"github.com/ehr/ips/internal/platform/fhir"
)

const testTZ = "America/New_York"

var fixedNow = time.Date(2025, 12, 12, 0, 0, 0, 0, time.UTC)

// ---------------------------------------------------------------------------
// Fixtures
// ---------------------------------------------------------------------------

func testPatient(id string) fhir.Resource {
	return fhir.Resource{
		"resourceType": "Patient",
		"id":           id,
		"identifier": []interface{}{
			map[string]interface{}{"system": "https://hospital-a.org", "value": "PA-" + id},
		},
		"name": []interface{}{
			map[string]interface{}{"family": "Smith", "given": []interface{}{"John"}},
		},
		"gender":    "male",
		"birthDate": "1980-01-01",
	}
}

func status(code string) map[string]interface{} {
	return map[string]interface{}{"coding": []interface{}{map[string]interface{}{"code": code}}}
}

func allergy(id, text string) fhir.Resource {
	return fhir.Resource{
		"resourceType":       "AllergyIntolerance",
		"id":                 id,
		"clinicalStatus":     status("active"),
		"verificationStatus": status("confirmed"),
		"code":               map[string]interface{}{"text": text},
		"patient":            map[string]interface{}{"reference": "Patient/p1"},
	}
}

func medication(id, text, st string) fhir.Resource {
	return fhir.Resource{
		"resourceType":              "MedicationStatement",
		"id":                        id,
		"status":                    st,
		"medicationCodeableConcept": map[string]interface{}{"text": text},
		"subject":                   map[string]interface{}{"reference": "Patient/p1"},
	}
}

func condition(id, text, onset string) fhir.Resource {
	return fhir.Resource{
		"resourceType":       "Condition",
		"id":                 id,
		"clinicalStatus":     status("active"),
		"verificationStatus": status("confirmed"),
		"code":               map[string]interface{}{"text": text},
		"subject":            map[string]interface{}{"reference": "Patient/p1"},
		"onsetDateTime":      onset,
	}
}

func immunization(id, text, date string) fhir.Resource {
	return fhir.Resource{
		"resourceType":       "Immunization",
		"id":                 id,
		"status":             "completed",
		"vaccineCode":        map[string]interface{}{"text": text},
		"patient":            map[string]interface{}{"reference": "Patient/p1"},
		"occurrenceDateTime": date,
	}
}

func clinicalRecords() []fhir.Resource {
	return []fhir.Resource{
		allergy("a1", "Penicillin"),
		medication("m1", "Aspirin 81mg", "active"),
		condition("c1", "Hypertension", "2015-03-01"),
		condition("c2", "Asthma", "2001-07-15"),
		immunization("i1", "MMR", "1990-05-01"),
		immunization("i2", "Influenza", "2024-10-01"),
	}
}

func collection(records ...fhir.Resource) fhir.Resource {
	entries := make([]interface{}, len(records))
	for i, r := range records {
		entries[i] = map[string]interface{}{"resource": r}
	}
	return fhir.Resource{"resourceType": "Bundle", "type": "collection", "entry": entries}
}

func sequentialIDs() IDFunc {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}

func newTestBuilder(opts ...Option) *Builder {
	base := []Option{WithIDGenerator(sequentialIDs()), WithClock(func() time.Time { return fixedNow })}
	return New(append(base, opts...)...)
}

func sectionDiv(t *testing.T, sections []map[string]interface{}, loinc string) string {
	t.Helper()
	for _, s := range sections {
		if fhir.HasCoding(fhir.GetMap(s, "code"), section.LOINCSystem, loinc) {
			return fhir.NarrativeDiv(s)
		}
	}
	t.Fatalf("section %s not found", loinc)
	return ""
}

func entryResources(bundle fhir.Resource) []fhir.Resource {
	var out []fhir.Resource
	for _, e := range fhir.GetMaps(bundle, "entry") {
		out = append(out, fhir.GetMap(e, "resource"))
	}
	return out
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestSetPatient_Invalid(t *testing.T) {
	b := New()
	if err := b.SetPatient(); !errors.Is(err, ErrInvalidPatient) {
		t.Errorf("expected ErrInvalidPatient for no records, got %v", err)
	}
	if err := b.SetPatient(allergy("a1", "x")); !errors.Is(err, ErrInvalidPatient) {
		t.Errorf("expected ErrInvalidPatient for a non-Patient, got %v", err)
	}
	if b.State() != StateEmpty {
		t.Errorf("expected state Empty, got %s", b.State())
	}
	if err := b.SetPatient(testPatient("p1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.State() != StatePatientSet {
		t.Errorf("expected state PatientSet, got %s", b.State())
	}
}

func TestBuild_PenicillinScenario(t *testing.T) {
	b := newTestBuilder()
	if err := b.SetPatient(testPatient("p1")); err != nil {
		t.Fatalf("SetPatient: %v", err)
	}
	if err := b.AddSection(section.Allergies, []fhir.Resource{allergy("a1", "Penicillin")}, testTZ); err != nil {
		t.Fatalf("AddSection: %v", err)
	}

	_, err := b.Build()
	var missing *MissingSectionsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingSectionsError, got %v", err)
	}
	want := []section.Kind{section.Problems, section.Medications}
	if !reflect.DeepEqual(missing.Kinds, want) {
		t.Errorf("expected missing %v, got %v", want, missing.Kinds)
	}
	if err.Error() != "Missing mandatory IPS sections: ProblemSection, MedicationSummarySection" {
		t.Errorf("unexpected message %q", err.Error())
	}

	if err := b.ReadRecords(nil, testTZ, false); err != nil {
		t.Fatalf("ReadRecords: %v", err)
	}
	sections, err := b.Build()
	if err != nil {
		t.Fatalf("expected build to succeed with placeholders, got %v", err)
	}
	if len(sections) != 3 {
		t.Fatalf("expected 3 sections, got %d", len(sections))
	}
	if div := sectionDiv(t, sections, "48765-2"); !strings.Contains(div, "Penicillin") {
		t.Errorf("expected allergy narrative to mention Penicillin, got %s", div)
	}
	problems := sectionDiv(t, sections, "11450-4")
	if !strings.Contains(problems, "There is no information available about the subject&#39;s health problems or disabilities.") &&
		!strings.Contains(problems, "There is no information available about the subject's health problems or disabilities.") {
		t.Errorf("expected problems placeholder, got %s", problems)
	}
	if _, ok := sections[0]["emptyReason"]; !ok {
		t.Error("expected placeholder section to carry an emptyReason")
	}
}

func TestBuild_SectionOrder(t *testing.T) {
	b := newTestBuilder()
	_ = b.SetPatient(testPatient("p1"))
	recs := clinicalRecords()
	_ = b.AddSection(section.Immunizations, recs[4:6], testTZ)
	_ = b.AddSection(section.Allergies, recs[0:1], testTZ)
	_ = b.AddSection(section.Medications, recs[1:2], testTZ)
	_ = b.AddSection(section.Problems, recs[2:4], testTZ)

	sections, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	var codes []string
	for _, s := range sections {
		codes = append(codes, fhir.GetString(fhir.Codings(fhir.GetMap(s, "code"))[0], "code"))
		if len(fhir.GetArray(s, "entry")) == 0 {
			t.Errorf("expected entries on section %v", s["title"])
		}
	}
	want := []string{"11450-4", "48765-2", "10160-0", "11369-6"}
	if !reflect.DeepEqual(codes, want) {
		t.Errorf("expected section order %v, got %v", want, codes)
	}
}

func TestAddSection_EmptyAndUnknown(t *testing.T) {
	b := New()
	if err := b.AddSection(section.Allergies, nil, testTZ); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.State() != StateEmpty {
		t.Errorf("expected empty records to add nothing, got state %s", b.State())
	}
	if err := b.AddSection(section.Kind(99), clinicalRecords(), testTZ); !errors.Is(err, section.ErrUnknownKind) {
		t.Errorf("expected ErrUnknownKind, got %v", err)
	}
}

func TestBuildBundle_NoPatient(t *testing.T) {
	b := New()
	_ = b.ReadRecords(clinicalRecords(), testTZ, false)
	if _, err := b.BuildBundle("org", "Org", "", testTZ, BundleOptions{}); !errors.Is(err, ErrNoPatient) {
		t.Errorf("expected ErrNoPatient, got %v", err)
	}
}

func TestBuildBundle_Layout(t *testing.T) {
	b := newTestBuilder()
	_ = b.SetPatient(testPatient("p1"))
	recs := clinicalRecords()
	_ = b.AddSection(section.Allergies, recs[0:1], testTZ)
	_ = b.AddSection(section.Medications, recs[1:2], testTZ)
	_ = b.AddSection(section.Problems, recs[2:4], testTZ)
	_ = b.AddSection(section.Immunizations, recs[4:6], testTZ)

	bundle, err := b.BuildBundle("example-organization", "Example Organization", "https://fhir.example.org/4_0_0/", testTZ, BundleOptions{Now: fixedNow})
	if err != nil {
		t.Fatalf("BuildBundle: %v", err)
	}
	if bundle["type"] != "document" || bundle["timestamp"] != "2025-12-12T00:00:00Z" {
		t.Errorf("unexpected bundle header %v %v", bundle["type"], bundle["timestamp"])
	}
	resources := entryResources(bundle)
	if len(resources) != 9 {
		t.Fatalf("expected 9 entries, got %d", len(resources))
	}
	comp := resources[0]
	if fhir.ResourceType(comp) != "Composition" {
		t.Fatalf("expected Composition first, got %s", fhir.ResourceType(comp))
	}
	if !fhir.HasCoding(fhir.GetMap(comp, "type"), section.LOINCSystem, "60591-5") {
		t.Error("expected IPS document type")
	}
	if fhir.ReferenceOf(comp, "subject") != "Patient/p1" {
		t.Errorf("unexpected subject %q", fhir.ReferenceOf(comp, "subject"))
	}
	for _, s := range fhir.GetMaps(comp, "section") {
		if fhir.HasCoding(fhir.GetMap(s, "code"), "", "54126-4") {
			t.Error("expected no Patient section")
		}
	}
	if !strings.Contains(fhir.NarrativeDiv(comp), "John Smith") {
		t.Errorf("expected patient narrative in Composition.text, got %s", fhir.NarrativeDiv(comp))
	}
	if fhir.ResourceType(resources[1]) != "Patient" {
		t.Errorf("expected Patient second, got %s", fhir.ResourceType(resources[1]))
	}
	last := resources[len(resources)-1]
	if fhir.Key(last) != "Organization/example-organization" || last["name"] != "Example Organization" {
		t.Errorf("expected Organization last, got %v", last)
	}
	first := fhir.GetMaps(bundle, "entry")[1]
	if first["fullUrl"] != "https://fhir.example.org/4_0_0/Patient/p1" {
		t.Errorf("unexpected fullUrl %v", first["fullUrl"])
	}

	seen := map[string]bool{}
	for _, r := range resources {
		key := fhir.Key(r)
		if seen[key] {
			t.Errorf("duplicate entry %s", key)
		}
		seen[key] = true
	}
	if b.State() != StateBundleBuilt {
		t.Errorf("expected BundleBuilt, got %s", b.State())
	}
}

func TestBuildBundle_Deterministic(t *testing.T) {
	build := func(records []fhir.Resource) fhir.Resource {
		b := newTestBuilder()
		_ = b.SetPatient(testPatient("p1"))
		if err := b.ReadRecords(records, testTZ, false); err != nil {
			t.Fatalf("ReadRecords: %v", err)
		}
		bundle, err := b.BuildBundle("org", "Org", "", testTZ, BundleOptions{Now: fixedNow})
		if err != nil {
			t.Fatalf("BuildBundle: %v", err)
		}
		return bundle
	}

	first := build(clinicalRecords())
	second := build(clinicalRecords())
	if !reflect.DeepEqual(first, second) {
		t.Error("expected identical bundles for identical input")
	}

	reversed := clinicalRecords()
	for i, j := 0, len(reversed)-1; i < j; i, j = i+1, j-1 {
		reversed[i], reversed[j] = reversed[j], reversed[i]
	}
	third := build(reversed)
	a := fhir.GetMaps(entryResources(first)[0], "section")
	c := fhir.GetMaps(entryResources(third)[0], "section")
	if len(a) != len(c) {
		t.Fatalf("expected same section count, got %d and %d", len(a), len(c))
	}
	for i := range a {
		if fhir.NarrativeDiv(a[i]) != fhir.NarrativeDiv(c[i]) {
			t.Errorf("expected narrative of %v to be independent of input order", a[i]["title"])
		}
	}
}

func TestReadBundle_MultiPatient(t *testing.T) {
	p2 := testPatient("p2")
	p2["telecom"] = []interface{}{map[string]interface{}{"system": "phone", "value": "+1-555-987-6543"}}
	input := collection(
		testPatient("p1"), p2,
		allergy("a1", "Penicillin"), allergy("a2", "Shellfish"), allergy("a3", "Latex"),
		medication("m1", "Aspirin 81mg", "active"),
		medication("m2", "Lisinopril 10mg", "active"),
		medication("m3", "Amoxicillin 500mg", "completed"),
	)

	b := newTestBuilder()
	if err := b.ReadBundle(input, testTZ, false); err != nil {
		t.Fatalf("ReadBundle: %v", err)
	}
	sections, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for _, s := range sections {
		code := fhir.GetString(fhir.Codings(fhir.GetMap(s, "code"))[0], "code")
		if (code == "48765-2" || code == "10160-0") && len(fhir.GetArray(s, "entry")) != 3 {
			t.Errorf("expected 3 entries in %v, got %d", s["title"], len(fhir.GetArray(s, "entry")))
		}
	}

	bundle, err := b.BuildBundle("org", "Org", "", testTZ, BundleOptions{})
	if err != nil {
		t.Fatalf("BuildBundle: %v", err)
	}
	patients := 0
	for _, r := range entryResources(bundle) {
		if fhir.IsType(r, "Patient") {
			patients++
		}
	}
	if patients != 2 {
		t.Errorf("expected both patients in the bundle, got %d", patients)
	}
	div := fhir.NarrativeDiv(entryResources(bundle)[0])
	if !strings.Contains(div, "PA-p1") || !strings.Contains(div, "PA-p2") || !strings.Contains(div, "555-987-6543") {
		t.Errorf("expected combined patient narrative, got %s", div)
	}
	if strings.Count(div, "John Smith") != 1 {
		t.Errorf("expected merged names to appear once, got %s", div)
	}
}

func TestReadBundle_PatientsOnly(t *testing.T) {
	b := newTestBuilder()
	if err := b.ReadBundle(collection(testPatient("p1"), testPatient("p2")), testTZ, false); err != nil {
		t.Fatalf("ReadBundle: %v", err)
	}
	bundle, err := b.BuildBundle("org", "Org", "", testTZ, BundleOptions{})
	if err != nil {
		t.Fatalf("expected placeholders to satisfy mandatory sections, got %v", err)
	}
	if n := len(entryResources(bundle)); n != 4 {
		t.Errorf("expected composition, 2 patients and organization, got %d entries", n)
	}
}

func TestReadBundle_NotABundle(t *testing.T) {
	b := New()
	if err := b.ReadBundle(testPatient("p1"), testTZ, false); !errors.Is(err, fhir.ErrInvalidBundle) {
		t.Errorf("expected ErrInvalidBundle, got %v", err)
	}
}

func TestReadRecords_SummaryComposition(t *testing.T) {
	summaryComp := fhir.Resource{
		"resourceType": "Composition",
		"id":           "allergy-summary",
		"type": map[string]interface{}{"coding": []interface{}{
			map[string]interface{}{"system": section.SummaryCodeSystem, "code": "allergy_summary_document"},
		}},
		"section": []interface{}{
			map[string]interface{}{
				"id": "row-1",
				"section": []interface{}{
					map[string]interface{}{"title": "Allergen", "text": fhir.Narrative("Tree nuts")},
					map[string]interface{}{"title": "Status", "text": fhir.Narrative("active")},
				},
				"entry": []interface{}{map[string]interface{}{"reference": "AllergyIntolerance/a9"}},
			},
		},
	}
	records := []fhir.Resource{testPatient("p1"), summaryComp, allergy("a1", "Penicillin"), allergy("a9", "Tree nuts")}

	b := newTestBuilder()
	if err := b.ReadRecords(records, testTZ, true); err != nil {
		t.Fatalf("ReadRecords: %v", err)
	}
	sections, err := b.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	div := sectionDiv(t, sections, "48765-2")
	if !strings.Contains(div, `<tr id="row-1"><td>Tree nuts</td><td>active</td>`) {
		t.Errorf("expected allergy rows from the summary, got %s", div)
	}
	if strings.Contains(div, "Penicillin") {
		t.Error("expected summary rows to replace raw records")
	}

	off := newTestBuilder(WithSummarySections(section.Selection{}, section.Selection{}))
	_ = off.ReadRecords(records, testTZ, true)
	sections, _ = off.Build()
	if div := sectionDiv(t, sections, "48765-2"); !strings.Contains(div, "Penicillin") {
		t.Errorf("expected raw records when no kind is selected, got %s", div)
	}
}

func TestReadBundle_RoundTripSummaryMode(t *testing.T) {
	first := newTestBuilder()
	_ = first.SetPatient(testPatient("p1"))
	if err := first.ReadRecords(clinicalRecords(), testTZ, false); err != nil {
		t.Fatalf("ReadRecords: %v", err)
	}
	doc, err := first.BuildBundle("org", "Org", "", testTZ, BundleOptions{Now: fixedNow})
	if err != nil {
		t.Fatalf("BuildBundle: %v", err)
	}

	second := newTestBuilder()
	if err := second.ReadBundle(doc, testTZ, true); err != nil {
		t.Fatalf("ReadBundle: %v", err)
	}
	sections, err := second.Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	meds := sectionDiv(t, sections, "10160-0")
	if !strings.Contains(meds, "<td>Aspirin 81mg</td><td>active</td>") {
		t.Errorf("expected medication name and status to survive, got %s", meds)
	}
	if !strings.Contains(meds, "<h5>Medication Summary</h5>") {
		t.Errorf("expected the summary schema table, got %s", meds)
	}
	allergies := sectionDiv(t, sections, "48765-2")
	if !strings.Contains(allergies, "<td>Penicillin</td><td>active</td>") {
		t.Errorf("expected allergy cells to survive, got %s", allergies)
	}

	rebuilt, err := second.BuildBundle("org", "Org", "", testTZ, BundleOptions{Now: fixedNow})
	if err != nil {
		t.Fatalf("BuildBundle: %v", err)
	}
	if n := len(entryResources(rebuilt)); n != 9 {
		t.Errorf("expected referenced records to be carried over, got %d entries", n)
	}
}
