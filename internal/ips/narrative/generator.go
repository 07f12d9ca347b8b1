// Package narrative renders the XHTML narrative of each IPS section.
package narrative

import (
	"fmt"
	"html"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/ips/internal/ips/coding"
	"github.com/ehr/ips/internal/ips/format"
	"github.com/ehr/ips/internal/ips/section"
	"github.com/ehr/ips/internal/platform/fhir"
)

// ---------------------------------------------------------------------------
// Types
// ---------------------------------------------------------------------------

// Env carries what a renderer needs besides its records.
type Env struct {
	U                *format.Utilities
	TZ               string
	AddressThreshold float64
}

// SectionRenderer renders the inner XHTML of one section kind. Records are
// never empty when Render is called.
type SectionRenderer interface {
	Render(env Env, records []fhir.Resource) (string, error)
}

// RendererFunc adapts a function to SectionRenderer.
type RendererFunc func(env Env, records []fhir.Resource) (string, error)

// Render calls f.
func (f RendererFunc) Render(env Env, records []fhir.Resource) (string, error) {
	return f(env, records)
}

// Outcome labels passed to an Observer.
const (
	OutcomeRendered = "rendered"
	OutcomeEmpty    = "empty"
	OutcomeError    = "error"
)

// Observer is notified after every Generate call.
type Observer func(kind section.Kind, outcome string, elapsed time.Duration)

// Generator dispatches section rendering to the registered renderers. The
// renderer table is fixed after construction; a Generator is safe for
// concurrent use.
type Generator struct {
	renderers        map[section.Kind]SectionRenderer
	codes            *coding.Resolver
	zones            *format.ZoneCache
	addressThreshold float64
	observer         Observer
	logger           zerolog.Logger
}

// Option configures a Generator.
type Option func(*Generator)

// WithRenderer registers (or replaces) the renderer for kind.
func WithRenderer(kind section.Kind, r SectionRenderer) Option {
	return func(g *Generator) { g.renderers[kind] = r }
}

// WithCodingResolver sets the coding-system display resolver.
func WithCodingResolver(r *coding.Resolver) Option {
	return func(g *Generator) { g.codes = r }
}

// WithZoneCache shares a timezone cache.
func WithZoneCache(z *format.ZoneCache) Option {
	return func(g *Generator) { g.zones = z }
}

// WithAddressThreshold sets the similarity above which patient addresses
// are merged.
func WithAddressThreshold(threshold float64) Option {
	return func(g *Generator) { g.addressThreshold = threshold }
}

// WithObserver installs a hook called after each section render.
func WithObserver(o Observer) Option {
	return func(g *Generator) { g.observer = o }
}

// WithLogger sets the logger used for recovered renderer failures.
func WithLogger(l zerolog.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// NewGenerator creates a Generator pre-loaded with the built-in renderer of
// every section kind.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		renderers:        make(map[section.Kind]SectionRenderer),
		addressThreshold: format.AddressSimilarityThreshold,
		logger:           zerolog.Nop(),
	}
	g.registerBuiltins()
	for _, opt := range opts {
		opt(g)
	}
	if g.codes == nil {
		g.codes = coding.NewResolver(nil)
	}
	if g.zones == nil {
		g.zones, _ = format.NewZoneCache(format.DefaultZoneCacheSize)
	}
	return g
}

// Utilities builds template utilities over a working set, sharing the
// generator's resolver and zone cache.
func (g *Generator) Utilities(working []fhir.Resource, opts ...format.Option) *format.Utilities {
	base := []format.Option{format.WithResolver(g.codes), format.WithZoneCache(g.zones)}
	return format.New(working, append(base, opts...)...)
}

// Generate renders the section narrative of kind for records. It returns
// ("", false) when there are no records. Renderer errors, panics and
// unknown kinds yield an inline error fragment instead of failing.
func (g *Generator) Generate(kind section.Kind, records []fhir.Resource, u *format.Utilities, tz string) (markup string, ok bool) {
	start := time.Now()
	outcome := OutcomeRendered
	defer func() {
		if g.observer != nil {
			g.observer(kind, outcome, time.Since(start))
		}
	}()

	if len(records) == 0 {
		outcome = OutcomeEmpty
		return "", false
	}
	r, found := g.renderers[kind]
	if !found || r == nil {
		outcome = OutcomeError
		return ErrorFragment(fmt.Sprintf("No template found for section: %s", kind)), true
	}
	if u == nil {
		u = g.Utilities(records)
	}

	content, err := g.safeRender(r, Env{U: u, TZ: tz, AddressThreshold: g.addressThreshold}, records)
	if err != nil {
		outcome = OutcomeError
		g.logger.Warn().Err(err).Str("section", kind.ID()).Int("records", len(records)).
			Msg("narrative generation failed")
		return ErrorFragment(err.Error()), true
	}
	return content, true
}

func (g *Generator) safeRender(r SectionRenderer, env Env, records []fhir.Resource) (content string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%v", rec)
		}
	}()
	return r.Render(env, records)
}

// ErrorFragment is the markup substituted for a section that failed to render.
func ErrorFragment(message string) string {
	return `<div class="error">Error generating narrative: ` + html.EscapeString(message) + `</div>`
}

func (g *Generator) registerBuiltins() {
	g.renderers[section.Patient] = RendererFunc(renderPatients)
	g.renderers[section.Problems] = RendererFunc(renderProblems)
	g.renderers[section.Allergies] = RendererFunc(renderAllergies)
	g.renderers[section.Medications] = RendererFunc(renderMedications)
	g.renderers[section.Immunizations] = RendererFunc(renderImmunizations)
	g.renderers[section.Results] = RendererFunc(renderResults)
	g.renderers[section.Procedures] = RendererFunc(renderProcedures)
	g.renderers[section.MedicalDevices] = RendererFunc(renderDevices)
	g.renderers[section.AdvanceDirectives] = RendererFunc(renderAdvanceDirectives)
	g.renderers[section.FunctionalStatus] = RendererFunc(renderFunctionalStatus)
	g.renderers[section.Pregnancy] = RendererFunc(renderPregnancy)
	g.renderers[section.PlanOfCare] = RendererFunc(renderPlanOfCare)
	g.renderers[section.PastIllness] = RendererFunc(renderPastIllness)
	g.renderers[section.SocialHistory] = RendererFunc(renderSocialHistory)
	g.renderers[section.VitalSigns] = RendererFunc(renderVitalSigns)
	g.renderers[section.FamilyHistory] = RendererFunc(renderFamilyHistory)
}
