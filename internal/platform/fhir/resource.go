package fhir

import (
	"fmt"
	"strings"
)

// Resource is a decoded FHIR resource. Records are handled as generic JSON
// objects so that any resource type, including ones this module has no
// specific knowledge of, can pass through classification and bundling.
type Resource = map[string]interface{}

// ResourceType returns the resourceType tag of r, or "" when missing.
func ResourceType(r Resource) string {
	if r == nil {
		return ""
	}
	t, _ := r["resourceType"].(string)
	return t
}

// ResourceID returns the logical id of r, or "" when missing.
func ResourceID(r Resource) string {
	if r == nil {
		return ""
	}
	id, _ := r["id"].(string)
	return id
}

// Key returns the "Type/id" identity of r. Resources without an id yield "".
func Key(r Resource) string {
	t, id := ResourceType(r), ResourceID(r)
	if t == "" || id == "" {
		return ""
	}
	return FormatReference(t, id)
}

// IsType reports whether r has one of the given resource types.
func IsType(r Resource, types ...string) bool {
	rt := ResourceType(r)
	for _, t := range types {
		if rt == t {
			return true
		}
	}
	return false
}

// FormatReference builds a relative reference string.
func FormatReference(resourceType, id string) string {
	return fmt.Sprintf("%s/%s", resourceType, id)
}

// ParseReference splits a reference into its type and id. Absolute URLs and
// versioned references ("Type/id/_history/n") are reduced to the Type/id pair.
func ParseReference(ref string) (resourceType, id string, ok bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" || strings.HasPrefix(ref, "#") {
		return "", "", false
	}
	if i := strings.Index(ref, "/_history/"); i >= 0 {
		ref = ref[:i]
	}
	parts := strings.Split(strings.TrimSuffix(ref, "/"), "/")
	if len(parts) < 2 {
		return "", "", false
	}
	resourceType, id = parts[len(parts)-2], parts[len(parts)-1]
	if resourceType == "" || id == "" {
		return "", "", false
	}
	return resourceType, id, true
}

// GetString safely extracts a string value from a map. Non-string scalars are
// formatted with %v; missing values yield "".
func GetString(m map[string]interface{}, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case map[string]interface{}, []interface{}:
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}

// GetMap returns m[key] as an object, or nil.
func GetMap(m map[string]interface{}, key string) map[string]interface{} {
	if m == nil {
		return nil
	}
	v, _ := m[key].(map[string]interface{})
	return v
}

// GetArray returns m[key] as an array, or nil.
func GetArray(m map[string]interface{}, key string) []interface{} {
	if m == nil {
		return nil
	}
	v, _ := m[key].([]interface{})
	return v
}

// GetMaps returns the object elements of m[key], skipping anything else.
func GetMaps(m map[string]interface{}, key string) []map[string]interface{} {
	arr := GetArray(m, key)
	if len(arr) == 0 {
		return nil
	}
	out := make([]map[string]interface{}, 0, len(arr))
	for _, item := range arr {
		if obj, ok := item.(map[string]interface{}); ok {
			out = append(out, obj)
		}
	}
	return out
}

// GetStrings returns the string elements of m[key].
func GetStrings(m map[string]interface{}, key string) []string {
	arr := GetArray(m, key)
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// GetBool returns m[key] as a bool and whether it was present.
func GetBool(m map[string]interface{}, key string) (bool, bool) {
	if m == nil {
		return false, false
	}
	b, ok := m[key].(bool)
	return b, ok
}

// GetNumber returns m[key] as a float64 and whether it was a JSON number.
func GetNumber(m map[string]interface{}, key string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	switch v := m[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Path walks a dotted path of object keys, e.g. "valueRatio.numerator.value".
func Path(m map[string]interface{}, path string) interface{} {
	var cur interface{} = m
	for _, key := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]interface{})
		if !ok {
			return nil
		}
		cur = obj[key]
	}
	return cur
}

// ReferenceOf returns the reference string held in m[field].reference.
func ReferenceOf(m map[string]interface{}, field string) string {
	return GetString(GetMap(m, field), "reference")
}

// Codings returns the codings of a CodeableConcept.
func Codings(cc map[string]interface{}) []map[string]interface{} {
	return GetMaps(cc, "coding")
}

// HasCoding reports whether any coding of cc has the given code. An empty
// system matches any system.
func HasCoding(cc map[string]interface{}, system, code string) bool {
	for _, c := range Codings(cc) {
		if GetString(c, "code") != code {
			continue
		}
		if system == "" || GetString(c, "system") == system {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// OperationOutcome
// ---------------------------------------------------------------------------

// OperationOutcome represents a FHIR OperationOutcome for errors.
type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

type OperationOutcomeIssue struct {
	Severity    string   `json:"severity"`
	Code        string   `json:"code"`
	Diagnostics string   `json:"diagnostics,omitempty"`
	Expression  []string `json:"expression,omitempty"`
}

func NewOperationOutcome(severity, code, diagnostics string) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []OperationOutcomeIssue{
			{
				Severity:    severity,
				Code:        code,
				Diagnostics: diagnostics,
			},
		},
	}
}

func ErrorOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome("error", "processing", diagnostics)
}

func InvalidOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome("error", "invalid", diagnostics)
}

func NotFoundOutcome(resourceType, id string) *OperationOutcome {
	return NewOperationOutcome("error", "not-found", resourceType+"/"+id+" not found")
}
