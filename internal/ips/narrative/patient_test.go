package narrative

import (
	"strings"
	"testing"

	"github.com/ehr/ips/internal/platform/fhir"
)

func testPatient() fhir.Resource {
	return fhir.Resource{
		"resourceType": "Patient",
		"id":           "p1",
		"name": []interface{}{
			map[string]interface{}{"given": []interface{}{"Jane"}, "family": "Doe"},
			map[string]interface{}{"use": "old", "given": []interface{}{"Jane"}, "family": "Smith"},
			map[string]interface{}{"given": []interface{}{"Jane"}, "family": "Doe"},
		},
		"gender":    "female",
		"birthDate": "1980-02-29",
		"identifier": []interface{}{
			map[string]interface{}{"system": "urn:oid:1.2.3", "value": "MRN-1"},
		},
		"telecom": []interface{}{
			map[string]interface{}{"system": "phone", "value": "5551234567"},
			map[string]interface{}{"system": "phone", "value": "+1-555-123-4567"},
			map[string]interface{}{"system": "email", "value": "jane@example.org"},
			map[string]interface{}{"system": "carrier-pigeon", "value": "loft 7"},
			map[string]interface{}{"system": "fax", "value": "555-000-1111"},
		},
		"address": []interface{}{
			map[string]interface{}{"line": []interface{}{"123 Main St"}, "city": "Springfield", "country": "USA"},
			map[string]interface{}{"line": []interface{}{"123 Main Street"}, "city": "Springfield", "country": "USA"},
			map[string]interface{}{"text": "9 Elm Road, Shelbyville"},
		},
		"maritalStatus":   map[string]interface{}{"text": "Married"},
		"deceasedBoolean": false,
		"communication": []interface{}{
			map[string]interface{}{"language": map[string]interface{}{"text": "English"}, "preferred": true},
			map[string]interface{}{"language": map[string]interface{}{"text": "Spanish"}},
		},
	}
}

func TestRenderPatient(t *testing.T) {
	g := NewGenerator()
	out := g.RenderPatient(testPatient(), nil, "UTC")

	assertContains(t, out, "<li><strong>Name(s):</strong> Jane Doe</li>")
	assertNotContains(t, out, "Smith")
	assertContains(t, out, "<li><strong>Gender:</strong> Female</li>")
	assertContains(t, out, "<li><strong>Date of Birth:</strong> 1980-02-29</li>")
	assertContains(t, out, "<li><strong>Identifier(s):</strong> urn:oid:1.2.3: MRN-1</li>")
	assertContains(t, out, "<li><strong>Phone:</strong> +1-555-123-4567</li>")
	assertContains(t, out, "<li><strong>Address(es):</strong> 123 Main Street, Springfield, USA<br/>9 Elm Road, Shelbyville</li>")
	assertContains(t, out, "<li><strong>Marital Status:</strong> Married</li>")
	assertContains(t, out, "<li><strong>Deceased:</strong> No</li>")
	assertContains(t, out, "<li><strong>Language(s):</strong> English (preferred), Spanish</li>")

	email := strings.Index(out, "Email:")
	phone := strings.Index(out, "Phone:")
	fax := strings.Index(out, "Fax:")
	pigeon := strings.Index(out, "Carrier-pigeon:")
	if !(email < phone && phone < fax && fax < pigeon) {
		t.Errorf("unexpected telecom order: %s", out)
	}
}

func TestRenderPatient_Deceased(t *testing.T) {
	g := NewGenerator()
	p := fhir.Resource{"resourceType": "Patient", "deceasedDateTime": "2020-03-04T10:00:00Z"}
	assertContains(t, g.RenderPatient(p, nil, "UTC"), "<li><strong>Deceased:</strong> 2020-03-04</li>")

	p = fhir.Resource{"resourceType": "Patient", "deceasedBoolean": true}
	assertContains(t, g.RenderPatient(p, nil, "UTC"), "<li><strong>Deceased:</strong> Yes</li>")

	if out := g.RenderPatient(fhir.Resource{"resourceType": "Patient"}, nil, "UTC"); out != "" {
		t.Errorf("expected empty narrative for bare patient, got %q", out)
	}
}

func TestRenderPatient_StrictAddressThreshold(t *testing.T) {
	g := NewGenerator(WithAddressThreshold(99))
	out := g.RenderPatient(testPatient(), nil, "UTC")
	assertContains(t, out, "123 Main St, Springfield, USA<br/>123 Main Street, Springfield, USA")
}
