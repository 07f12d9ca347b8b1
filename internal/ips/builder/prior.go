package builder

import (
	"github.com/ehr/ips/internal/ips/section"
	"github.com/ehr/ips/internal/ips/summary"
	"github.com/ehr/ips/internal/platform/fhir"
)

// priorRows are the rows decoded for one kind from prior summaries, with the
// references those summaries carried.
type priorRows struct {
	rows []summary.Row
	refs []string
}

// decodePrior decodes the prior summary Compositions among records, keyed by
// the kind they cover. Kinds not selected for summary mode are skipped.
func (b *Builder) decodePrior(records []fhir.Resource) (map[section.Kind]*priorRows, error) {
	out := make(map[section.Kind]*priorRows)
	get := func(k section.Kind) *priorRows {
		p, ok := out[k]
		if !ok {
			p = &priorRows{}
			out[k] = p
		}
		return p
	}

	for _, rec := range records {
		if kind, ok := b.registry.SummaryKind(rec); ok {
			if !b.summarySections.Includes(kind) {
				continue
			}
			p := get(kind)
			p.rows = append(p.rows, b.decoder.DecodeSummary(rec)...)
			p.refs = append(p.refs, sectionRefs(fhir.GetMaps(rec, "section"))...)
			continue
		}
		if !section.IsIPSComposition(rec) {
			continue
		}
		decoded, err := b.decoder.DecodeIPS(rec)
		if err != nil {
			return nil, err
		}
		for _, sec := range fhir.GetMaps(rec, "section") {
			kind, ok := b.registry.KindForSection(sec)
			if !ok || !b.ipsSummarySections.Includes(kind) {
				continue
			}
			p := get(kind)
			p.refs = append(p.refs, sectionRefs([]map[string]interface{}{sec})...)
		}
		for kind, rows := range decoded {
			if b.ipsSummarySections.Includes(kind) {
				p := get(kind)
				p.rows = append(p.rows, rows...)
			}
		}
	}
	return out, nil
}

// renderPrior renders kind from decoded rows. It reports false when the
// rows hold nothing, so the caller falls back to raw records.
func (b *Builder) renderPrior(kind section.Kind, p *priorRows) bool {
	markup, ok, err := summary.Render(kind, p.rows)
	if err != nil {
		b.logger.Warn().Err(err).Str("section", kind.ID()).Msg("prior summary rows not rendered")
		return false
	}
	if !ok {
		return false
	}
	b.sections[kind] = &builtSection{kind: kind, markup: markup, entries: dedupe(p.refs)}
	b.logger.Debug().Str("section", kind.ID()).Int("rows", len(p.rows)).Msg("section rendered from prior summaries")
	return true
}

// sectionRefs collects the entry references of sections and their nested
// sections, normalized to Type/id where possible.
func sectionRefs(sections []map[string]interface{}) []string {
	var refs []string
	for _, sec := range sections {
		for _, e := range fhir.GetMaps(sec, "entry") {
			ref := fhir.GetString(e, "reference")
			if t, id, ok := fhir.ParseReference(ref); ok {
				refs = append(refs, fhir.FormatReference(t, id))
			} else if ref != "" {
				refs = append(refs, ref)
			}
		}
		refs = append(refs, sectionRefs(fhir.GetMaps(sec, "section"))...)
	}
	return refs
}

func dedupe(values []string) []string {
	seen := make(map[string]bool, len(values))
	var out []string
	for _, v := range values {
		if seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
