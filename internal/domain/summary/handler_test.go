package summary

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/ehr/ips/internal/platform/fhir"
)

func newTestServer() (*echo.Echo, *testEnv) {
	env := newTestEnv()
	e := echo.New()
	NewHandler(env.svc).RegisterRoutes(e.Group("/fhir"))
	return e, env
}

func bundleJSON(t *testing.T, r fhir.Resource) string {
	t.Helper()
	data, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(data)
}

func do(e *echo.Echo, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, "application/fhir+json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &m); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return m
}

func issueCode(t *testing.T, outcome map[string]interface{}) string {
	t.Helper()
	if outcome["resourceType"] != "OperationOutcome" {
		t.Fatalf("expected OperationOutcome, got %v", outcome)
	}
	issues := fhir.GetMaps(outcome, "issue")
	if len(issues) == 0 {
		t.Fatalf("expected at least one issue, got %v", outcome)
	}
	return fhir.GetString(issues[0], "code")
}

func TestHandler_SummarizeBundle(t *testing.T) {
	e, env := newTestServer()
	rec := do(e, http.MethodPost, "/fhir/Bundle/$summary?_tz=America/New_York", bundleJSON(t, testBundle(testRecords()...)))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get(echo.HeaderContentType); !strings.HasPrefix(ct, "application/fhir+json") {
		t.Errorf("expected FHIR JSON content type, got %s", ct)
	}
	doc := decode(t, rec)
	if doc["resourceType"] != "Bundle" || doc["type"] != "document" {
		t.Errorf("expected document bundle, got %v/%v", doc["resourceType"], doc["type"])
	}
	if len(env.documents.saved) != 1 {
		t.Errorf("expected the document to be archived")
	}
}

func TestHandler_SummarizeBundle_Errors(t *testing.T) {
	e, _ := newTestServer()
	tests := []struct {
		name   string
		target string
		body   string
		status int
		code   string
	}{
		{"malformed json", "/fhir/Bundle/$summary", `{"resourceType":`, http.StatusBadRequest, "invalid"},
		{"not a bundle", "/fhir/Bundle/$summary", `{"resourceType":"Patient","id":"p1"}`, http.StatusBadRequest, "invalid"},
		{"no patient", "/fhir/Bundle/$summary", bundleJSON(t, testBundle(testAllergy("a1", "Penicillin"))), http.StatusUnprocessableEntity, "business-rule"},
		{"bad timezone", "/fhir/Bundle/$summary?_tz=Mars/Olympus", bundleJSON(t, testBundle(testRecords()...)), http.StatusBadRequest, "invalid"},
		{"bad summary flag", "/fhir/Bundle/$summary?summary=maybe", bundleJSON(t, testBundle(testRecords()...)), http.StatusBadRequest, "invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(e, http.MethodPost, tt.target, tt.body)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if code := issueCode(t, decode(t, rec)); code != tt.code {
				t.Errorf("expected issue code %s, got %s", tt.code, code)
			}
		})
	}
}

func TestHandler_SummarizePatient(t *testing.T) {
	e, _ := newTestServer()

	rec := do(e, http.MethodGet, "/fhir/Patient/p1/$summary?summary=true", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if doc := decode(t, rec); doc["type"] != "document" {
		t.Errorf("expected document bundle, got %v", doc["type"])
	}

	rec = do(e, http.MethodGet, "/fhir/Patient/unknown/$summary", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if code := issueCode(t, decode(t, rec)); code != "not-found" {
		t.Errorf("expected not-found, got %s", code)
	}
}

func TestHandler_SummarizePatient_SourceUnavailable(t *testing.T) {
	e, env := newTestServer()
	env.records.err = ErrSourceUnavailable

	rec := do(e, http.MethodGet, "/fhir/Patient/p1/$summary", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if code := issueCode(t, decode(t, rec)); code != "transient" {
		t.Errorf("expected transient, got %s", code)
	}
}

func TestHandler_LatestSummary(t *testing.T) {
	e, _ := newTestServer()

	rec := do(e, http.MethodGet, "/fhir/Patient/p1/$summary/latest", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before any document, got %d", rec.Code)
	}

	rec = do(e, http.MethodGet, "/fhir/Patient/p1/$summary", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	generated := decode(t, rec)

	rec = do(e, http.MethodGet, "/fhir/Patient/p1/$summary/latest", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get(echo.HeaderContentType); !strings.HasPrefix(ct, "application/fhir+json") {
		t.Errorf("expected fhir+json content type, got %q", ct)
	}
	latest := decode(t, rec)
	if latest["id"] != generated["id"] || latest["type"] != "document" {
		t.Errorf("expected archived document %v, got %v", generated["id"], latest["id"])
	}
}

func TestHandler_Narrative(t *testing.T) {
	e, _ := newTestServer()
	body := bundleJSON(t, testBundle(testRecords()...))

	rec := do(e, http.MethodPost, "/fhir/$narrative?section=AllergyIntoleranceSection", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	n := decode(t, rec)
	if n["status"] != "generated" || !strings.Contains(fhir.GetString(n, "div"), "Penicillin") {
		t.Errorf("unexpected narrative %v", n)
	}

	rec = do(e, http.MethodPost, "/fhir/$narrative?section=MedicationSummarySection", body, echo.HeaderAccept, "text/html")
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Body.String(), "<div") {
		t.Errorf("expected bare div for text/html, got %d %q", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Aspirin 81mg") {
		t.Errorf("expected medication narrative, got %q", rec.Body.String())
	}
}

func TestHandler_Narrative_Errors(t *testing.T) {
	e, _ := newTestServer()
	body := bundleJSON(t, testBundle(testRecords()...))

	rec := do(e, http.MethodPost, "/fhir/$narrative?section=Bogus", body)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown section, got %d", rec.Code)
	}
	rec = do(e, http.MethodPost, "/fhir/$narrative?section=ImmunizationSection", body)
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("expected 422 for a section without records, got %d", rec.Code)
	}
}

func TestHandler_Markdown(t *testing.T) {
	e, env := newTestServer()
	doc, err := env.svc.GenerateFromBundle(context.Background(), testBundle(testRecords()...), GenerateOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rec := do(e, http.MethodPost, "/fhir/Bundle/$markdown", bundleJSON(t, doc))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get(echo.HeaderContentType); !strings.HasPrefix(ct, "text/markdown") {
		t.Errorf("expected markdown content type, got %s", ct)
	}
	if !strings.HasPrefix(rec.Body.String(), "# International Patient Summary") {
		t.Errorf("unexpected markdown %q", rec.Body.String())
	}
}
