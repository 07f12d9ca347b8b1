// Package format holds the rendering helpers shared by every narrative
// template: concept display, reference resolution, value and date
// formatting, and address/phone deduplication. Every method returns
// markup-safe text; raw values from records are escaped on the way out.
package format

import (
	"strings"

	"github.com/ehr/ips/internal/ips/coding"
	"github.com/ehr/ips/internal/platform/fhir"
)

// NarrativeLinkURL identifies the extension that links a record to the
// table row rendered for it.
const NarrativeLinkURL = "http://hl7.org/fhir/StructureDefinition/narrativeLink"

// Utilities renders fragments of records for narrative templates. It is
// built over the working set of a single generation run so references
// between records can be followed. A Utilities value is read-only after
// construction and safe for concurrent use.
type Utilities struct {
	index map[string]fhir.Resource
	urls  map[string]fhir.Resource
	codes *coding.Resolver
	zones *ZoneCache
}

// Option configures a Utilities value.
type Option func(*Utilities)

// WithResolver sets the coding-system display resolver.
func WithResolver(r *coding.Resolver) Option {
	return func(u *Utilities) { u.codes = r }
}

// WithFullURLs makes records addressable by their bundle entry fullUrl,
// typically "urn:uuid:..." identifiers.
func WithFullURLs(urls map[string]fhir.Resource) Option {
	return func(u *Utilities) {
		for k, v := range urls {
			u.urls[k] = v
		}
	}
}

// WithZoneCache shares a timezone cache across runs.
func WithZoneCache(z *ZoneCache) Option {
	return func(u *Utilities) { u.zones = z }
}

// New builds Utilities over records. Records without a Type/id identity are
// not addressable by reference but are still renderable.
func New(records []fhir.Resource, opts ...Option) *Utilities {
	u := &Utilities{
		index: make(map[string]fhir.Resource, len(records)),
		urls:  make(map[string]fhir.Resource),
	}
	for _, r := range records {
		if k := fhir.Key(r); k != "" {
			if _, seen := u.index[k]; !seen {
				u.index[k] = r
			}
		}
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.codes == nil {
		u.codes = coding.NewResolver(nil)
	}
	if u.zones == nil {
		u.zones, _ = NewZoneCache(DefaultZoneCacheSize)
	}
	return u
}

// Text escapes a raw string for inclusion in a narrative.
func (u *Utilities) Text(s string) string {
	return fhir.EscapeText(s)
}

// Resolve returns the record a reference string points to, or nil.
func (u *Utilities) Resolve(ref string) fhir.Resource {
	if u == nil {
		return nil
	}
	if r, ok := u.urls[ref]; ok {
		return r
	}
	rt, id, ok := fhir.ParseReference(ref)
	if !ok {
		return nil
	}
	return u.index[fhir.FormatReference(rt, id)]
}

// ResolveFrom resolves ref relative to owner, looking inside owner.contained
// for local "#id" references.
func (u *Utilities) ResolveFrom(owner fhir.Resource, ref string) fhir.Resource {
	if strings.HasPrefix(ref, "#") {
		id := strings.TrimPrefix(ref, "#")
		for _, c := range fhir.GetMaps(owner, "contained") {
			if fhir.ResourceID(c) == id {
				return c
			}
		}
		return nil
	}
	return u.Resolve(ref)
}

// ---------------------------------------------------------------------------
// Concepts
// ---------------------------------------------------------------------------

// CodeableConcept renders a CodeableConcept. When field is set, cc[field] and
// then coding[0][field] are tried first; otherwise text, display, the first
// coding's display and finally its code are used.
func (u *Utilities) CodeableConcept(cc map[string]interface{}, field string) string {
	if cc == nil {
		return ""
	}
	codings := fhir.Codings(cc)
	if field != "" {
		if v := fhir.GetString(cc, field); v != "" {
			return fhir.EscapeText(v)
		}
		if len(codings) > 0 {
			if v := fhir.GetString(codings[0], field); v != "" {
				return fhir.EscapeText(v)
			}
		}
	}
	if v := fhir.GetString(cc, "text"); v != "" {
		return fhir.EscapeText(v)
	}
	if v := fhir.GetString(cc, "display"); v != "" {
		return fhir.EscapeText(v)
	}
	for _, c := range codings {
		if v := fhir.GetString(c, "display"); v != "" {
			return fhir.EscapeText(v)
		}
	}
	if len(codings) > 0 {
		return fhir.EscapeText(fhir.GetString(codings[0], "code"))
	}
	return ""
}

// CodeableConceptWithCode renders a concept display followed by the first
// coding's code and the human name of its system.
func (u *Utilities) CodeableConceptWithCode(cc map[string]interface{}) string {
	display := u.CodeableConcept(cc, "")
	codings := fhir.Codings(cc)
	if len(codings) == 0 {
		return display
	}
	code := fhir.GetString(codings[0], "code")
	if code == "" {
		return display
	}
	suffix := fhir.EscapeText(code)
	if system := fhir.GetString(codings[0], "system"); system != "" {
		suffix += " (" + fhir.EscapeText(u.codes.Display(system)) + ")"
	}
	if display == "" || display == fhir.EscapeText(code) {
		return suffix
	}
	return display + ` <span class="code">` + suffix + `</span>`
}

// Concat joins the string values of a list, or of attr on each object in the
// list, with ", ".
func (u *Utilities) Concat(list []interface{}, attr string) string {
	parts := make([]string, 0, len(list))
	for _, item := range list {
		var s string
		if attr != "" {
			obj, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			s = fhir.GetString(obj, attr)
		} else {
			switch v := item.(type) {
			case map[string]interface{}, []interface{}, nil:
				continue
			case string:
				s = v
			default:
				s = fhir.GetString(map[string]interface{}{"v": v}, "v")
			}
		}
		if s != "" {
			parts = append(parts, fhir.EscapeText(s))
		}
	}
	return strings.Join(parts, ", ")
}

// ConcatCodeableConcept joins the displays of a list of concepts.
func (u *Utilities) ConcatCodeableConcept(list []map[string]interface{}) string {
	parts := make([]string, 0, len(list))
	for _, cc := range list {
		if s := u.CodeableConcept(cc, ""); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

// ConcatReactionManifestation joins every manifestation of every reaction.
func (u *Utilities) ConcatReactionManifestation(reactions []map[string]interface{}) string {
	parts := make([]string, 0, len(reactions))
	for _, reaction := range reactions {
		if s := u.ConcatCodeableConcept(fhir.GetMaps(reaction, "manifestation")); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

// ConcatReactionSeverity joins the severities of a list of reactions.
func (u *Utilities) ConcatReactionSeverity(reactions []map[string]interface{}) string {
	parts := make([]string, 0, len(reactions))
	for _, reaction := range reactions {
		if s := fhir.GetString(reaction, "severity"); s != "" {
			parts = append(parts, fhir.EscapeText(s))
		}
	}
	return strings.Join(parts, ", ")
}

// ConcatDoseNumber joins the dose numbers of immunization protocol entries.
func (u *Utilities) ConcatDoseNumber(protocols []map[string]interface{}) string {
	parts := make([]string, 0, len(protocols))
	for _, p := range protocols {
		s := fhir.GetString(p, "doseNumberPositiveInt")
		if s == "" {
			s = fhir.GetString(p, "doseNumberString")
		}
		if s != "" {
			parts = append(parts, fhir.EscapeText(s))
		}
	}
	return strings.Join(parts, ", ")
}

// ConcatDosageRoute joins the routes of a list of dosages.
func (u *Utilities) ConcatDosageRoute(dosages []map[string]interface{}) string {
	parts := make([]string, 0, len(dosages))
	for _, d := range dosages {
		if s := u.CodeableConcept(fhir.GetMap(d, "route"), "display"); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

// ConcatDosageText joins the free-text instructions of a list of dosages.
func (u *Utilities) ConcatDosageText(dosages []map[string]interface{}) string {
	return u.Concat(toInterfaces(dosages), "text")
}

// ConcatReferenceRange renders observation reference ranges, one per line.
// Each range is its text, or "low - high unit", "> low" or "< high", with
// the range type in parentheses.
func (u *Utilities) ConcatReferenceRange(ranges []map[string]interface{}) string {
	parts := make([]string, 0, len(ranges))
	for _, rr := range ranges {
		s := fhir.EscapeText(fhir.GetString(rr, "text"))
		if s == "" {
			low, high := fhir.GetMap(rr, "low"), fhir.GetMap(rr, "high")
			lowVal, highVal := quantityNumber(low), quantityNumber(high)
			switch {
			case lowVal != "" && highVal != "":
				s = lowVal + " - " + highVal
				if unit := quantityUnit(high); unit != "" {
					s += " " + fhir.EscapeText(unit)
				} else if unit := quantityUnit(low); unit != "" {
					s += " " + fhir.EscapeText(unit)
				}
			case lowVal != "":
				s = "&gt; " + u.Quantity(low)
			case highVal != "":
				s = "&lt; " + u.Quantity(high)
			}
		}
		if s == "" {
			continue
		}
		if t := u.CodeableConcept(fhir.GetMap(rr, "type"), "display"); t != "" {
			s += " (" + t + ")"
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "<br/>")
}

// RenderComponents renders observation components as "name: value unit"
// pairs joined with ", ".
func (u *Utilities) RenderComponents(components []map[string]interface{}, tz string) string {
	parts := make([]string, 0, len(components))
	for _, c := range components {
		name := u.CodeableConcept(fhir.GetMap(c, "code"), "display")
		value := u.ObservationValue(c, tz)
		if unit := u.ObservationUnit(c); unit != "" && value != "" {
			value += " " + unit
		}
		switch {
		case name != "" && value != "":
			parts = append(parts, name+": "+value)
		case value != "":
			parts = append(parts, value)
		}
	}
	return strings.Join(parts, ", ")
}

// ---------------------------------------------------------------------------
// References
// ---------------------------------------------------------------------------

// NarrativeLinkID returns the fragment id carried by the narrativeLink
// extension of r, or "".
func (u *Utilities) NarrativeLinkID(r map[string]interface{}) string {
	return NarrativeLinkID(r)
}

// NarrativeLinkID returns the raw fragment id carried by the narrativeLink
// extension of r, or "". r may also be the extension itself. Callers
// escape it for the attribute they write.
func NarrativeLinkID(r map[string]interface{}) string {
	var value string
	if fhir.GetString(r, "url") == NarrativeLinkURL {
		value = extensionValue(r)
	}
	if value == "" {
		for _, ext := range fhir.GetMaps(r, "extension") {
			if fhir.GetString(ext, "url") == NarrativeLinkURL {
				value = extensionValue(ext)
				break
			}
		}
	}
	i := strings.Index(value, "#")
	if i < 0 {
		return ""
	}
	return value[i+1:]
}

// RenderReference renders a Reference using the resolved record's display
// name when available, then the reference display, then the raw reference.
func (u *Utilities) RenderReference(ref map[string]interface{}) string {
	if ref == nil {
		return ""
	}
	if target := u.Resolve(fhir.GetString(ref, "reference")); target != nil {
		if s := u.DisplayName(target); s != "" {
			return s
		}
	}
	if s := fhir.GetString(ref, "display"); s != "" {
		return fhir.EscapeText(s)
	}
	return fhir.EscapeText(fhir.GetString(ref, "reference"))
}

// RenderOrganization renders an Organization reference by name.
func (u *Utilities) RenderOrganization(ref map[string]interface{}) string {
	return u.RenderReference(ref)
}

// RenderDevice renders a Device reference by its device name or type.
func (u *Utilities) RenderDevice(owner fhir.Resource, ref map[string]interface{}) string {
	if ref == nil {
		return ""
	}
	if device := u.ResolveFrom(owner, fhir.GetString(ref, "reference")); device != nil {
		if s := u.DisplayName(device); s != "" {
			return s
		}
	}
	if s := fhir.GetString(ref, "display"); s != "" {
		return fhir.EscapeText(s)
	}
	return ""
}

// RenderMedication renders the medication of a MedicationStatement or
// MedicationRequest, following medicationReference into the working set or
// the contained resources when needed. Coded medications carry their code and
// the name of its system.
func (u *Utilities) RenderMedication(r fhir.Resource) string {
	if cc := fhir.GetMap(r, "medicationCodeableConcept"); cc != nil {
		return u.CodeableConceptWithCode(cc)
	}
	ref := fhir.GetMap(r, "medicationReference")
	if ref == nil {
		return ""
	}
	if med := u.ResolveFrom(r, fhir.GetString(ref, "reference")); med != nil {
		if s := u.CodeableConceptWithCode(fhir.GetMap(med, "code")); s != "" {
			return s
		}
	}
	return fhir.EscapeText(fhir.GetString(ref, "display"))
}

// DisplayName renders a short human label for any record.
func (u *Utilities) DisplayName(r fhir.Resource) string {
	switch fhir.ResourceType(r) {
	case "Organization", "Location", "HealthcareService":
		return fhir.EscapeText(fhir.GetString(r, "name"))
	case "Practitioner", "Patient", "RelatedPerson":
		names := fhir.GetMaps(r, "name")
		if len(names) == 0 {
			return ""
		}
		return fhir.EscapeText(HumanName(names[0]))
	case "Device":
		for _, dn := range fhir.GetMaps(r, "deviceName") {
			if s := fhir.GetString(dn, "name"); s != "" {
				return fhir.EscapeText(s)
			}
		}
		return u.CodeableConcept(fhir.GetMap(r, "type"), "")
	case "Medication":
		return u.CodeableConcept(fhir.GetMap(r, "code"), "")
	}
	if s := u.CodeableConcept(fhir.GetMap(r, "code"), ""); s != "" {
		return s
	}
	if s := fhir.GetString(r, "title"); s != "" {
		return fhir.EscapeText(s)
	}
	return fhir.EscapeText(fhir.GetString(r, "name"))
}

// HumanName renders a HumanName as its text, else "given family". The
// result is not escaped.
func HumanName(name map[string]interface{}) string {
	if s := fhir.GetString(name, "text"); s != "" {
		return s
	}
	parts := append(fhir.GetStrings(name, "given"), fhir.GetString(name, "family"))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

// ---------------------------------------------------------------------------
// Notes and text
// ---------------------------------------------------------------------------

// NoteDisclaimer follows styled notes, which are rendered as recorded.
const NoteDisclaimer = "Notes are shown as recorded and have not been reviewed for completeness."

// RenderNotes renders Annotation notes. The plain form joins note texts
// with line breaks. The styled form lists each note with its author and time and
// closes with a disclaimer.
func (u *Utilities) RenderNotes(notes []map[string]interface{}, tz string, styled bool) string {
	if len(notes) == 0 {
		return ""
	}
	if !styled {
		parts := make([]string, 0, len(notes))
		for _, n := range notes {
			if text := fhir.EscapeText(fhir.GetString(n, "text")); text != "" {
				parts = append(parts, text)
			}
		}
		return strings.Join(parts, "<br/>")
	}
	var b strings.Builder
	b.WriteString(`<ul class="notes">`)
	for _, n := range notes {
		text := fhir.EscapeText(fhir.GetString(n, "text"))
		if text == "" {
			continue
		}
		b.WriteString("<li>")
		meta := make([]string, 0, 2)
		if t := u.RenderTime(fhir.GetString(n, "time"), tz); t != "" {
			meta = append(meta, t)
		}
		author := u.RenderReference(fhir.GetMap(n, "authorReference"))
		if author == "" {
			author = fhir.EscapeText(fhir.GetString(n, "authorString"))
		}
		if author != "" {
			meta = append(meta, author)
		}
		if len(meta) > 0 {
			b.WriteString(`<span class="note-meta">` + strings.Join(meta, ", ") + `</span> `)
		}
		b.WriteString(text)
		b.WriteString("</li>")
	}
	b.WriteString("</ul>")
	b.WriteString(`<p class="disclaimer">` + NoteDisclaimer + `</p>`)
	return b.String()
}

// Capitalize upper-cases the first letter of s.
func Capitalize(s string) string {
	if s == "" {
		return ""
	}
	r := []rune(s)
	return strings.ToUpper(string(r[0])) + string(r[1:])
}

func extensionValue(ext map[string]interface{}) string {
	for _, key := range []string{"valueString", "valueUri", "valueUrl", "valueCode"} {
		if v := fhir.GetString(ext, key); v != "" {
			return v
		}
	}
	return ""
}

func toInterfaces(list []map[string]interface{}) []interface{} {
	out := make([]interface{}, len(list))
	for i, m := range list {
		out[i] = m
	}
	return out
}
