package builder

import (
	"time"

	"github.com/ehr/ips/internal/ips/patient"
	"github.com/ehr/ips/internal/ips/section"
	"github.com/ehr/ips/internal/platform/fhir"
)

const (
	// CompositionTitle is the title of every generated Composition.
	CompositionTitle = "International Patient Summary"
	identifierSystem = "urn:ietf:rfc:3986"
	timestampLayout  = time.RFC3339
)

// BundleOptions tunes BuildBundle.
type BundleOptions struct {
	// Now is the document timestamp. Zero means the builder's clock.
	Now time.Time
}

// BuildBundle assembles the document Bundle: the Composition, every Patient,
// every record referenced by a section, then the authoring Organization.
// No Type/id pair appears twice.
func (b *Builder) BuildBundle(orgID, orgName, baseURL, tz string, opts BundleOptions) (fhir.Resource, error) {
	if len(b.patients) == 0 {
		return nil, ErrNoPatient
	}
	sections, err := b.Build()
	if err != nil {
		return nil, err
	}

	now := opts.Now
	if now.IsZero() {
		now = b.now()
	}
	timestamp := now.UTC().Format(timestampLayout)

	if orgID == "" {
		orgID = b.newID()
	}
	org := fhir.Resource{"resourceType": "Organization", "id": orgID}
	if orgName != "" {
		org["name"] = orgName
	}

	combined := patient.Combine(b.patients...)
	patientMarkup := b.generator.RenderPatient(combined, b.generator.Utilities(b.records), tz)

	compID := b.newID()
	composition := fhir.Resource{
		"resourceType": "Composition",
		"id":           compID,
		"identifier": map[string]interface{}{
			"system": identifierSystem,
			"value":  "urn:uuid:" + compID,
		},
		"status": "final",
		"type": map[string]interface{}{
			"coding": []interface{}{
				map[string]interface{}{
					"system":  section.LOINCSystem,
					"code":    section.PatientSummaryLOINC,
					"display": section.PatientSummaryDisplay,
				},
			},
		},
		"subject":   map[string]interface{}{"reference": fhir.Key(b.patients[0])},
		"date":      timestamp,
		"author":    []interface{}{map[string]interface{}{"reference": fhir.Key(org)}},
		"custodian": map[string]interface{}{"reference": fhir.Key(org)},
		"title":     CompositionTitle,
		"text":      fhir.Narrative(patientMarkup),
	}
	if len(sections) > 0 {
		list := make([]interface{}, len(sections))
		for i, s := range sections {
			list[i] = s
		}
		composition["section"] = list
	}

	seen := map[string]bool{fhir.Key(composition): true}
	entries := []interface{}{fhir.NewBundleEntry(baseURL, composition)}
	add := func(r fhir.Resource) {
		key := fhir.Key(r)
		if key != "" {
			if seen[key] {
				return
			}
			seen[key] = true
		}
		entries = append(entries, fhir.NewBundleEntry(baseURL, r))
	}

	for _, p := range b.patients {
		add(p)
	}
	for _, kind := range b.registry.Kinds() {
		s, ok := b.sections[kind]
		if !ok {
			continue
		}
		for _, ref := range s.entries {
			if r := b.resolve(ref); r != nil {
				add(r)
			}
		}
	}
	add(org)

	bundleID := b.newID()
	bundle := fhir.Resource{
		"resourceType": "Bundle",
		"id":           bundleID,
		"identifier": map[string]interface{}{
			"system": identifierSystem,
			"value":  "urn:uuid:" + bundleID,
		},
		"type":      fhir.BundleTypeDocument,
		"timestamp": timestamp,
		"entry":     entries,
	}
	b.advance(StateBundleBuilt)
	b.logger.Info().Str("composition", compID).Int("sections", len(sections)).
		Int("entries", len(entries)).Msg("document bundle built")
	return bundle, nil
}

// resolve finds the record behind a section entry reference.
func (b *Builder) resolve(ref string) fhir.Resource {
	if r, ok := b.byKey[ref]; ok {
		return r
	}
	if r, ok := b.fullURLs[ref]; ok {
		return r
	}
	if t, id, ok := fhir.ParseReference(ref); ok {
		return b.byKey[fhir.FormatReference(t, id)]
	}
	return nil
}
