package format

import (
	"math"
	"strconv"
	"strings"

	"github.com/ehr/ips/internal/platform/fhir"
)

// FormatNumber renders a number with at most two decimals and no trailing
// zeros.
func FormatNumber(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return ""
	}
	rounded := math.Round(v*100) / 100
	if rounded == 0 {
		rounded = 0 // normalize -0
	}
	return strconv.FormatFloat(rounded, 'f', -1, 64)
}

func numberField(m map[string]interface{}, key string) string {
	if v, ok := fhir.GetNumber(m, key); ok {
		return FormatNumber(v)
	}
	if s := fhir.GetString(m, key); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return FormatNumber(f)
		}
		return fhir.EscapeText(s)
	}
	return ""
}

// quantityNumber renders the comparator and value of a Quantity.
func quantityNumber(q map[string]interface{}) string {
	v := numberField(q, "value")
	if v == "" {
		return ""
	}
	return fhir.EscapeText(fhir.GetString(q, "comparator")) + v
}

func quantityUnit(q map[string]interface{}) string {
	if u := fhir.GetString(q, "unit"); u != "" {
		return u
	}
	return fhir.GetString(q, "code")
}

// Quantity renders a Quantity as "[comparator]value unit".
func (u *Utilities) Quantity(q map[string]interface{}) string {
	v := quantityNumber(q)
	if v == "" {
		return ""
	}
	if unit := quantityUnit(q); unit != "" {
		return v + " " + fhir.EscapeText(unit)
	}
	return v
}

// Range renders a Range as "low - high". A single bound renders as
// "&gt;= low" or "&lt;= high".
func (u *Utilities) Range(r map[string]interface{}) string {
	low, high := u.Quantity(fhir.GetMap(r, "low")), u.Quantity(fhir.GetMap(r, "high"))
	switch {
	case low != "" && high != "":
		return low + " - " + high
	case low != "":
		return "&gt;= " + low
	case high != "":
		return "&lt;= " + high
	}
	return ""
}

// Ratio renders a Ratio as "numerator / denominator".
func (u *Utilities) Ratio(r map[string]interface{}) string {
	num, den := u.Quantity(fhir.GetMap(r, "numerator")), u.Quantity(fhir.GetMap(r, "denominator"))
	switch {
	case num != "" && den != "":
		return num + " / " + den
	default:
		return num
	}
}

// ObservationValue renders value[x] of an Observation or component without
// its unit. A missing value renders the dataAbsentReason in parentheses.
func (u *Utilities) ObservationValue(obs map[string]interface{}, tz string) string {
	if q := fhir.GetMap(obs, "valueQuantity"); q != nil {
		return quantityNumber(q)
	}
	if cc := fhir.GetMap(obs, "valueCodeableConcept"); cc != nil {
		return u.CodeableConcept(cc, "")
	}
	if s := fhir.GetString(obs, "valueString"); s != "" {
		return fhir.EscapeText(s)
	}
	if b, ok := fhir.GetBool(obs, "valueBoolean"); ok {
		if b {
			return "Yes"
		}
		return "No"
	}
	if s := numberField(obs, "valueInteger"); s != "" {
		return s
	}
	if r := fhir.GetMap(obs, "valueRange"); r != nil {
		return u.Range(r)
	}
	if r := fhir.GetMap(obs, "valueRatio"); r != nil {
		return u.Ratio(r)
	}
	if s := fhir.GetString(obs, "valueDateTime"); s != "" {
		return u.RenderTime(s, tz)
	}
	if p := fhir.GetMap(obs, "valuePeriod"); p != nil {
		return u.RenderPeriod(p, tz)
	}
	if s := fhir.GetString(obs, "valueTime"); s != "" {
		return fhir.EscapeText(s)
	}
	if sd := fhir.GetMap(obs, "valueSampledData"); sd != nil {
		return fhir.EscapeText(strings.TrimSpace(fhir.GetString(sd, "data")))
	}
	if dar := fhir.GetMap(obs, "dataAbsentReason"); dar != nil {
		if s := u.CodeableConcept(dar, ""); s != "" {
			return "(" + s + ")"
		}
	}
	return ""
}

// ObservationUnit renders the unit of a quantity value, or "".
func (u *Utilities) ObservationUnit(obs map[string]interface{}) string {
	if q := fhir.GetMap(obs, "valueQuantity"); q != nil {
		return fhir.EscapeText(quantityUnit(q))
	}
	return ""
}
