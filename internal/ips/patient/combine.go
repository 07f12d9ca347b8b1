// Package patient merges the Patient records of one build into the single
// combined patient the document narrative is written from.
package patient

import (
	"encoding/json"

	"github.com/ehr/ips/internal/platform/fhir"
)

// ListFields are unioned across the merged records.
var ListFields = []string{"identifier", "name", "telecom", "address", "communication", "contact"}

// ScalarFields take the first non-empty value in merge order.
var ScalarFields = []string{"gender", "birthDate", "maritalStatus", "language", "active"}

// deceasedFields are one choice element; the first record carrying either
// form decides it.
var deceasedFields = []string{"deceasedBoolean", "deceasedDateTime"}

// Combine merges patients in order. The result carries the id of the first
// patient. Input records are never modified. It returns nil when no record
// is a Patient.
func Combine(patients ...fhir.Resource) fhir.Resource {
	var list []fhir.Resource
	for _, p := range patients {
		if fhir.IsType(p, "Patient") {
			list = append(list, p)
		}
	}
	if len(list) == 0 {
		return nil
	}

	result := fhir.Resource{"resourceType": "Patient"}
	if id := fhir.ResourceID(list[0]); id != "" {
		result["id"] = id
	}

	for _, field := range ListFields {
		var merged []interface{}
		for _, p := range list {
			merged = mergeList(field, merged, fhir.GetArray(p, field))
		}
		if len(merged) > 0 {
			result[field] = merged
		}
	}

	for _, field := range ScalarFields {
		for _, p := range list {
			if v, ok := p[field]; ok && !isEmpty(v) {
				result[field] = v
				break
			}
		}
	}

deceased:
	for _, p := range list {
		for _, field := range deceasedFields {
			if v, ok := p[field]; ok && !isEmpty(v) {
				result[field] = v
				break deceased
			}
		}
	}

	return result
}

// mergeList appends the items of src not already in dst.
func mergeList(field string, dst, src []interface{}) []interface{} {
	seen := make(map[string]bool, len(dst)+len(src))
	for _, item := range dst {
		seen[itemKey(field, item)] = true
	}
	for _, item := range src {
		if isEmpty(item) {
			continue
		}
		key := itemKey(field, item)
		if seen[key] {
			continue
		}
		seen[key] = true
		dst = append(dst, item)
	}
	return dst
}

// itemKey identifies a list element. Telecom and identifiers are keyed by
// system and value; other elements by their full content.
func itemKey(field string, item interface{}) string {
	if m, ok := item.(map[string]interface{}); ok {
		switch field {
		case "telecom", "identifier":
			return fhir.GetString(m, "system") + "|" + fhir.GetString(m, "value")
		}
	}
	// encoding/json writes map keys sorted, so equal content gives equal keys.
	data, err := json.Marshal(item)
	if err != nil {
		return ""
	}
	return string(data)
}

func isEmpty(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []interface{}:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	}
	return false
}
