package section

import (
	"strings"

	"github.com/ehr/ips/internal/platform/fhir"
)

var pregnancyCodes = map[string]bool{
	"82810-3": true, // Pregnancy status
	"11636-8": true, "11637-6": true, "11638-4": true, "11639-2": true, "11640-0": true,
	"11612-9": true, "11613-7": true, "11614-5": true,
	"33065-4": true,
}

var pregnancyValueCodes = map[string]bool{
	"LA15173-0": true, // Pregnant
	"LA26683-5": true, // Not pregnant
	"LA4489-6":  true, // Unknown
}

var socialHistoryCodes = map[string]bool{
	"72166-2": true, // Tobacco use
	"74013-4": true, // Alcohol use
}

// Classify returns the records of the given kind, preserving input order.
func (r *Registry) Classify(records []fhir.Resource, k Kind) []fhir.Resource {
	d, ok := r.defs[k]
	if !ok || d.Match == nil {
		return nil
	}
	var out []fhir.Resource
	for _, rec := range records {
		if d.Match(rec) {
			out = append(out, rec)
		}
	}
	return out
}

// Partition routes every record to the first kind, in Composition order,
// whose predicate matches it. Records that match no kind are left out.
func (r *Registry) Partition(records []fhir.Resource) map[Kind][]fhir.Resource {
	kinds := r.Kinds()
	out := make(map[Kind][]fhir.Resource)
	for _, rec := range records {
		for _, k := range kinds {
			if m := r.defs[k].Match; m != nil && m(rec) {
				out[k] = append(out[k], rec)
				break
			}
		}
	}
	return out
}

// SummaryKind reports whether rec is a per-section summary Composition and
// which kind it summarizes.
func (r *Registry) SummaryKind(rec fhir.Resource) (Kind, bool) {
	if !fhir.IsType(rec, "Composition") {
		return 0, false
	}
	for _, c := range fhir.Codings(fhir.GetMap(rec, "type")) {
		if strings.TrimSuffix(fhir.GetString(c, "system"), "/") != strings.TrimSuffix(SummaryCodeSystem, "/") {
			continue
		}
		if k, ok := r.KindForSummaryCode(fhir.GetString(c, "code")); ok {
			return k, true
		}
	}
	return 0, false
}

// IsIPSComposition reports whether rec is a prior IPS document Composition.
func IsIPSComposition(rec fhir.Resource) bool {
	return fhir.IsType(rec, "Composition") &&
		fhir.HasCoding(fhir.GetMap(rec, "type"), LOINCSystem, PatientSummaryLOINC)
}

// KindForSection returns the kind of a Composition section by its LOINC code.
func (r *Registry) KindForSection(sec map[string]interface{}) (Kind, bool) {
	for _, c := range fhir.Codings(fhir.GetMap(sec, "code")) {
		if k, ok := r.KindForLOINC(fhir.GetString(c, "code")); ok {
			return k, true
		}
	}
	return 0, false
}

func isType(types ...string) func(fhir.Resource) bool {
	return func(r fhir.Resource) bool { return fhir.IsType(r, types...) }
}

func clinicalStatus(r fhir.Resource) string {
	cs := fhir.GetMap(r, "clinicalStatus")
	for _, c := range fhir.Codings(cs) {
		if code := fhir.GetString(c, "code"); code != "" {
			return strings.ToLower(code)
		}
	}
	return strings.ToLower(fhir.GetString(cs, "text"))
}

func isActiveProblem(r fhir.Resource) bool {
	if !fhir.IsType(r, "Condition") {
		return false
	}
	s := clinicalStatus(r)
	return s != "inactive" && s != "resolved"
}

func isPastIllness(r fhir.Resource) bool {
	if !fhir.IsType(r, "Condition") {
		return false
	}
	s := clinicalStatus(r)
	return s == "inactive" || s == "resolved"
}

// hasCategory reports whether any category of r carries one of values as a
// coding code or as text.
func hasCategory(r fhir.Resource, values ...string) bool {
	for _, cat := range fhir.GetMaps(r, "category") {
		candidates := []string{fhir.GetString(cat, "text")}
		for _, c := range fhir.Codings(cat) {
			candidates = append(candidates, fhir.GetString(c, "code"))
		}
		for _, cand := range candidates {
			for _, v := range values {
				if cand != "" && cand == v {
					return true
				}
			}
		}
	}
	return false
}

func codeIn(cc map[string]interface{}, set map[string]bool) bool {
	for _, c := range fhir.Codings(cc) {
		if set[fhir.GetString(c, "code")] {
			return true
		}
	}
	return false
}

func isResult(r fhir.Resource) bool {
	if fhir.IsType(r, "DiagnosticReport") {
		return true
	}
	return fhir.IsType(r, "Observation") && hasCategory(r, "laboratory", "Lab", "LAB")
}

func isFunctionalStatus(r fhir.Resource) bool {
	if fhir.IsType(r, "ClinicalImpression") {
		return true
	}
	return fhir.IsType(r, "Observation") && hasCategory(r, "functional-status")
}

func isPregnancy(r fhir.Resource) bool {
	if !fhir.IsType(r, "Observation") {
		return false
	}
	return codeIn(fhir.GetMap(r, "code"), pregnancyCodes) ||
		codeIn(fhir.GetMap(r, "valueCodeableConcept"), pregnancyValueCodes)
}

func isSocialHistory(r fhir.Resource) bool {
	if !fhir.IsType(r, "Observation") {
		return false
	}
	return hasCategory(r, "social-history") || codeIn(fhir.GetMap(r, "code"), socialHistoryCodes)
}

func isVitalSign(r fhir.Resource) bool {
	return fhir.IsType(r, "Observation") && hasCategory(r, "vital-signs")
}
