// Package coding resolves coding-system URLs to human-readable names.
package coding

import "strings"

// Resolver maps coding-system URLs to display names. It is read-only after
// construction and safe for concurrent use.
type Resolver struct {
	names map[string]string
}

var defaultNames = map[string]string{
	"http://snomed.info/sct":                      "SNOMED CT",
	"http://loinc.org":                            "LOINC",
	"http://hl7.org/fhir/sid/icd-10":              "ICD-10",
	"http://hl7.org/fhir/sid/icd-10-cm":           "ICD-10-CM",
	"http://hl7.org/fhir/sid/icd-9":               "ICD-9",
	"http://hl7.org/fhir/sid/cvx":                 "CVX",
	"http://www.nlm.nih.gov/research/umls/rxnorm": "RxNorm",
	"http://www.ama-assn.org/go/cpt":              "CPT",
	"http://unitsofmeasure.org":                   "UCUM",
	"http://e-imo.com/products/problem-it":        "IMO Problem IT",
	"2.16.840.1.113883.6.285":                     "HCPCS Level II",
	"https://fhir.cerner.com/4ff3b259-e48d-4066-8b35-a6a051f2802a/codeSet/72": "Cerner Code Set 72",
	"http://hl7.org/fhir/sid/ndc":                                "NDC",
	"urn:oid:2.16.840.1.113883.12.292":                           "CVX",
	"http://terminology.hl7.org/CodeSystem/data-absent-reason":   "Data Absent Reason",
	"2.16.840.1.113883.6.208":                                    "NDDF",
}

// NewResolver returns a Resolver over the built-in table. Entries in extra
// override or extend it.
func NewResolver(extra map[string]string) *Resolver {
	names := make(map[string]string, len(defaultNames)+len(extra))
	for k, v := range defaultNames {
		names[k] = v
	}
	for k, v := range extra {
		names[k] = v
	}
	return &Resolver{names: names}
}

// Display returns the display name for system. Unknown systems fall back to
// the raw system URL.
func (r *Resolver) Display(system string) string {
	if name, ok := r.Lookup(system); ok {
		return name
	}
	return system
}

// Lookup returns the display name for system and whether it is known. A
// trailing slash on the URL is ignored.
func (r *Resolver) Lookup(system string) (string, bool) {
	if r == nil || system == "" {
		return "", false
	}
	if name, ok := r.names[system]; ok {
		return name, true
	}
	name, ok := r.names[strings.TrimSuffix(system, "/")]
	return name, ok
}
