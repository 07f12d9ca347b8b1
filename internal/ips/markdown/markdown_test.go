package markdown

import (
	"errors"
	"strings"
	"testing"

	"github.com/ehr/ips/internal/platform/fhir"
)

func documentBundle() fhir.Resource {
	return fhir.Resource{
		"resourceType": "Bundle",
		"type":         "document",
		"entry": []interface{}{
			map[string]interface{}{"resource": map[string]interface{}{
				"resourceType": "Composition",
				"id":           "c1",
				"title":        "International Patient Summary",
				"text":         fhir.Narrative("<ul><li><strong>Name(s):</strong> John Smith</li></ul>"),
				"section": []interface{}{
					map[string]interface{}{
						"title": "Allergies and Intolerances",
						"text":  fhir.Narrative(`<table class="hapiPropertyTable"><tbody><tr><td>Penicillin</td><td>active</td></tr></tbody></table>`),
					},
					map[string]interface{}{
						"text": fhir.Narrative("<p>Fish &amp; chips</p>"),
					},
				},
			}},
			map[string]interface{}{"resource": map[string]interface{}{
				"resourceType": "Patient",
				"id":           "p1",
				"name": []interface{}{
					map[string]interface{}{"family": "Smith", "given": []interface{}{"John", "Q"}},
					map[string]interface{}{"given": []interface{}{"Johnny"}},
				},
			}},
			map[string]interface{}{"resource": map[string]interface{}{"resourceType": "AllergyIntolerance", "id": "a1"}},
			map[string]interface{}{"resource": map[string]interface{}{"resourceType": "AllergyIntolerance", "id": "a2"}},
			map[string]interface{}{"resource": map[string]interface{}{"resourceType": "Organization", "id": "org"}},
		},
	}
}

func TestFromBundle(t *testing.T) {
	md, err := FromBundle(documentBundle())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := []string{
		"# International Patient Summary\n\nName(s): John Smith\n\n",
		"\n## Allergies and Intolerances\nPenicillin active\n",
		"\n## Section 2\nFish & chips\n",
		"\n---\n\n## Bundle Resources\n",
		"\n### Patient (1)\n- **p1** - John Q Smith\n",
		"\n### AllergyIntolerance (2)\n- **a1**\n- **a2**\n",
		"\n### Organization (1)\n- **org**\n",
	}
	for _, want := range expected {
		if !strings.Contains(md, want) {
			t.Errorf("expected markdown to contain %q, got:\n%s", want, md)
		}
	}
	if strings.Index(md, "### Patient") > strings.Index(md, "### AllergyIntolerance") {
		t.Error("expected types in order of first appearance")
	}
	if strings.Contains(md, "### Composition") {
		t.Error("expected Composition to be left out of the inventory")
	}
}

func TestFromBundle_DefaultTitleAndNoComposition(t *testing.T) {
	bundle := fhir.Resource{"resourceType": "Bundle", "entry": []interface{}{
		map[string]interface{}{"resource": map[string]interface{}{"resourceType": "Composition"}},
	}}
	md, _ := FromBundle(bundle)
	if !strings.HasPrefix(md, "# Patient Summary\n\n") {
		t.Errorf("expected default title, got %q", md)
	}

	md, err := FromBundle(fhir.Resource{"resourceType": "Bundle"})
	if err != nil || md != "# No Composition resource found in the bundle\n" {
		t.Errorf("unexpected result %q %v", md, err)
	}
}

func TestFromBundle_NotABundle(t *testing.T) {
	_, err := FromBundle(fhir.Resource{"resourceType": "Patient"})
	if !errors.Is(err, fhir.ErrInvalidBundle) {
		t.Fatalf("expected ErrInvalidBundle, got %v", err)
	}
	if err.Error() != "Input is not a valid FHIR Bundle" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestStripHTML(t *testing.T) {
	got := StripHTML(`<div xmlns="http://www.w3.org/1999/xhtml"><h5>Title</h5><p>a&lt;b   c</p></div>`)
	if got != "Title a<b c" {
		t.Errorf("unexpected text %q", got)
	}
}
