// Package builder assembles IPS documents. A Builder takes the patient and
// clinical records of one build, renders the section narratives and emits
// the Composition and the document Bundle.
package builder

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/ips/internal/ips/format"
	"github.com/ehr/ips/internal/ips/narrative"
	"github.com/ehr/ips/internal/ips/profile"
	"github.com/ehr/ips/internal/ips/section"
	"github.com/ehr/ips/internal/ips/summary"
	"github.com/ehr/ips/internal/platform/fhir"
)

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

var (
	// ErrInvalidPatient is returned by SetPatient for empty input or a
	// record that is not a Patient.
	ErrInvalidPatient = errors.New("Invalid Patient resource")
	// ErrNoPatient is returned by BuildBundle when no patient was set.
	ErrNoPatient = errors.New("Patient resource must be set before building the bundle")
)

// MissingSectionsError names the mandatory section kinds absent from a build.
type MissingSectionsError struct {
	Kinds []section.Kind
}

func (e *MissingSectionsError) Error() string {
	return "Missing mandatory IPS sections: " + section.MissingNames(e.Kinds)
}

// ---------------------------------------------------------------------------
// State
// ---------------------------------------------------------------------------

// State is the lifecycle position of a Builder.
type State int

const (
	StateEmpty State = iota
	StatePatientSet
	StateSectionsBuilt
	StateBundleBuilt
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "Empty"
	case StatePatientSet:
		return "PatientSet"
	case StateSectionsBuilt:
		return "SectionsBuilt"
	case StateBundleBuilt:
		return "BundleBuilt"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// IDFunc produces resource ids.
type IDFunc func() string

// builtSection is one rendered section.
type builtSection struct {
	kind        section.Kind
	records     []fhir.Resource
	markup      string
	entries     []string
	placeholder bool
}

// Builder assembles one IPS document. It is not safe for concurrent use;
// create one Builder per build.
type Builder struct {
	registry  *section.Registry
	generator *narrative.Generator
	profiles  *profile.Registry
	decoder   *summary.Decoder
	logger    zerolog.Logger
	newID     IDFunc
	now       func() time.Time

	summarySections    section.Selection
	ipsSummarySections section.Selection

	state    State
	patients []fhir.Resource
	records  []fhir.Resource
	byKey    map[string]fhir.Resource
	fullURLs map[string]fhir.Resource
	sections map[section.Kind]*builtSection
}

// Option configures a Builder.
type Option func(*Builder)

// WithRegistry sets the section registry.
func WithRegistry(r *section.Registry) Option {
	return func(b *Builder) { b.registry = r }
}

// WithGenerator sets the narrative generator.
func WithGenerator(g *narrative.Generator) Option {
	return func(b *Builder) { b.generator = g }
}

// WithProfiles sets the resource profiles records are checked against.
func WithProfiles(p *profile.Registry) Option {
	return func(b *Builder) { b.profiles = p }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// WithIDGenerator sets the id source for the Composition, Bundle and a
// synthesized Organization.
func WithIDGenerator(f IDFunc) Option {
	return func(b *Builder) { b.newID = f }
}

// WithClock sets the time source used when BundleOptions.Now is zero.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// WithSummarySections selects which kinds are taken from prior summary
// Compositions and which from prior IPS documents in summary mode.
func WithSummarySections(compositions, ipsDocuments section.Selection) Option {
	return func(b *Builder) {
		b.summarySections = compositions
		b.ipsSummarySections = ipsDocuments
	}
}

// New creates an empty Builder.
func New(opts ...Option) *Builder {
	b := &Builder{
		logger:             zerolog.Nop(),
		newID:              uuid.NewString,
		now:                time.Now,
		summarySections:    section.Selection{All: true},
		ipsSummarySections: section.Selection{All: true},
		byKey:              make(map[string]fhir.Resource),
		fullURLs:           make(map[string]fhir.Resource),
		sections:           make(map[section.Kind]*builtSection),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.registry == nil {
		b.registry = section.NewRegistry()
	}
	if b.generator == nil {
		b.generator = narrative.NewGenerator(narrative.WithLogger(b.logger))
	}
	if b.profiles == nil {
		b.profiles = profile.NewRegistry()
	}
	b.decoder = summary.NewDecoder(b.registry)
	return b
}

// State returns the lifecycle state.
func (b *Builder) State() State { return b.state }

func (b *Builder) advance(s State) {
	if s > b.state {
		b.state = s
	}
}

// ---------------------------------------------------------------------------
// Intake
// ---------------------------------------------------------------------------

// SetPatient sets the patient records of the document. The first record is
// the Composition subject; all of them are merged for the patient narrative.
func (b *Builder) SetPatient(patients ...fhir.Resource) error {
	if len(patients) == 0 {
		return ErrInvalidPatient
	}
	for _, p := range patients {
		if !fhir.IsType(p, "Patient") {
			return ErrInvalidPatient
		}
	}
	b.patients = nil
	b.addPatients(patients)
	b.checkProfiles(section.Patient, patients)
	b.advance(StatePatientSet)
	return nil
}

func (b *Builder) addPatients(patients []fhir.Resource) {
	for _, p := range patients {
		if b.hasPatient(p) {
			continue
		}
		b.patients = append(b.patients, p)
	}
}

func (b *Builder) hasPatient(p fhir.Resource) bool {
	key := fhir.Key(p)
	if key == "" {
		return false
	}
	for _, existing := range b.patients {
		if fhir.Key(existing) == key {
			return true
		}
	}
	return false
}

// remember adds records to the working set used for reference resolution
// and bundle entries. The first record seen for a key wins.
func (b *Builder) remember(records []fhir.Resource) {
	for _, r := range records {
		b.records = append(b.records, r)
		if key := fhir.Key(r); key != "" {
			if _, ok := b.byKey[key]; !ok {
				b.byKey[key] = r
			}
		}
	}
}

// AddSection renders records as the section of kind. Records added to the
// same kind accumulate. An empty record list adds nothing.
func (b *Builder) AddSection(kind section.Kind, records []fhir.Resource, tz string) error {
	if _, err := b.registry.Definition(kind); err != nil {
		return err
	}
	if kind == section.Patient {
		return b.SetPatient(records...)
	}
	if len(records) == 0 {
		return nil
	}
	b.remember(records)
	u := b.generator.Utilities(b.records, format.WithFullURLs(b.fullURLs))
	b.renderRecords(kind, records, u, tz)
	b.advance(StateSectionsBuilt)
	return nil
}

// ReadBundle reads the resources of a collection, document or searchset
// Bundle. Entry fullUrls are used to resolve absolute references.
func (b *Builder) ReadBundle(bundle fhir.Resource, tz string, useSummaryMode bool) error {
	records, err := fhir.BundleResources(bundle)
	if err != nil {
		return err
	}
	for _, entry := range fhir.GetMaps(bundle, "entry") {
		if u := fhir.GetString(entry, "fullUrl"); u != "" {
			if r := fhir.GetMap(entry, "resource"); r != nil {
				b.fullURLs[u] = r
			}
		}
	}
	return b.ReadRecords(records, tz, useSummaryMode)
}

// ReadRecords classifies records into sections and renders every kind that
// has records, in section order. Patient records are added to the patient
// list. Mandatory kinds left without records get their placeholder. In
// summary mode, prior summaries found among the records replace the raw
// records of the kinds they cover.
func (b *Builder) ReadRecords(records []fhir.Resource, tz string, useSummaryMode bool) error {
	var patients, clinical []fhir.Resource
	for _, r := range records {
		if fhir.IsType(r, "Patient") {
			patients = append(patients, r)
			continue
		}
		clinical = append(clinical, r)
	}
	if len(patients) > 0 {
		b.addPatients(patients)
		b.checkProfiles(section.Patient, patients)
		b.advance(StatePatientSet)
	}
	b.remember(records)

	var prior map[section.Kind]*priorRows
	if useSummaryMode {
		var err error
		if prior, err = b.decodePrior(clinical); err != nil {
			return fmt.Errorf("decode prior summaries: %w", err)
		}
	}

	u := b.generator.Utilities(b.records, format.WithFullURLs(b.fullURLs))
	partition := b.registry.Partition(clinical)
	for _, kind := range b.registry.Kinds() {
		if kind == section.Patient {
			continue
		}
		if p, ok := prior[kind]; ok && b.renderPrior(kind, p) {
			continue
		}
		if recs := partition[kind]; len(recs) > 0 {
			b.renderRecords(kind, recs, u, tz)
		}
	}
	b.fillPlaceholders()
	b.advance(StateSectionsBuilt)
	return nil
}

func (b *Builder) renderRecords(kind section.Kind, records []fhir.Resource, u *format.Utilities, tz string) {
	s, ok := b.sections[kind]
	if !ok || s.placeholder {
		s = &builtSection{kind: kind}
		b.sections[kind] = s
	}
	s.records = append(s.records, records...)
	b.checkProfiles(kind, records)

	markup, rendered := b.generator.Generate(kind, s.records, u, tz)
	if !rendered {
		delete(b.sections, kind)
		return
	}
	s.markup = markup
	s.entries = references(s.records)
	b.logger.Debug().Str("section", kind.ID()).Int("records", len(s.records)).Msg("section rendered")
}

// fillPlaceholders adds the placeholder section of every mandatory kind that
// has none.
func (b *Builder) fillPlaceholders() {
	for _, kind := range b.registry.Mandatory() {
		if kind == section.Patient {
			continue
		}
		if _, ok := b.sections[kind]; ok {
			continue
		}
		def, err := b.registry.Definition(kind)
		if err != nil {
			continue
		}
		b.sections[kind] = &builtSection{kind: kind, markup: def.PlaceholderMarkup(), placeholder: true}
	}
}

func (b *Builder) checkProfiles(kind section.Kind, records []fhir.Resource) {
	for _, gap := range b.profiles.Check(kind, records) {
		b.logger.Warn().Str("section", kind.ID()).Str("resource", gap.Key).
			Strs("missing", gap.Missing).Str("profile", gap.URL).
			Msg("record is missing mandatory IPS fields")
	}
}

// references returns the Type/id references of records, without duplicates,
// in record order.
func references(records []fhir.Resource) []string {
	seen := make(map[string]bool, len(records))
	var refs []string
	for _, r := range records {
		key := fhir.Key(r)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		refs = append(refs, key)
	}
	return refs
}

// ---------------------------------------------------------------------------
// Output
// ---------------------------------------------------------------------------

// Build returns the Composition sections in section order. It fails with a
// *MissingSectionsError when a mandatory kind has no section; the Patient
// kind is satisfied by SetPatient.
func (b *Builder) Build() ([]map[string]interface{}, error) {
	var missing []section.Kind
	for _, kind := range b.registry.Mandatory() {
		if kind == section.Patient {
			if len(b.patients) == 0 {
				missing = append(missing, kind)
			}
			continue
		}
		if _, ok := b.sections[kind]; !ok {
			missing = append(missing, kind)
		}
	}
	if len(missing) > 0 {
		return nil, &MissingSectionsError{Kinds: missing}
	}

	var out []map[string]interface{}
	for _, kind := range b.registry.Kinds() {
		if s, ok := b.sections[kind]; ok {
			out = append(out, b.sectionResource(s))
		}
	}
	return out, nil
}

func (b *Builder) sectionResource(s *builtSection) map[string]interface{} {
	def, _ := b.registry.Definition(s.kind)
	sec := map[string]interface{}{
		"title": def.Title,
		"code":  def.SectionCode(),
		"text":  fhir.Narrative(s.markup),
	}
	if len(s.entries) == 0 {
		sec["emptyReason"] = map[string]interface{}{
			"coding": []interface{}{
				map[string]interface{}{
					"system":  "http://terminology.hl7.org/CodeSystem/list-empty-reason",
					"code":    "unavailable",
					"display": "Unavailable",
				},
			},
		}
		return sec
	}
	entries := make([]interface{}, len(s.entries))
	for i, ref := range s.entries {
		entries[i] = map[string]interface{}{"reference": ref}
	}
	sec["entry"] = entries
	return sec
}
