package summary

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/ips/internal/ips/builder"
	"github.com/ehr/ips/internal/ips/markdown"
	"github.com/ehr/ips/internal/ips/narrative"
	"github.com/ehr/ips/internal/ips/profile"
	"github.com/ehr/ips/internal/ips/section"
	"github.com/ehr/ips/internal/platform/fhir"
)

// Build sources used as metric labels.
const (
	SourceBundle  = "bundle"
	SourcePatient = "patient"
)

// Config holds the document identity and the summary-mode selections.
type Config struct {
	OrgID    string
	OrgName  string
	BaseURL  string
	Timezone string
	// CompositionSections and IPSSections pick the kinds taken from prior
	// summary Compositions and prior IPS documents in summary mode.
	CompositionSections section.Selection
	IPSSections         section.Selection
	// Sections, when set, is called on every build and replaces the two
	// fixed selections above.
	Sections func() (compositions, ipsDocuments section.Selection)
}

type Service struct {
	cfg         Config
	registry    *section.Registry
	profiles    *profile.Registry
	generator   *narrative.Generator
	records     RecordRepository
	documents   DocumentRepository
	metrics     *Metrics
	logger      zerolog.Logger
	builderOpts []builder.Option
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithRecords sets the patient record source used by GenerateForPatient.
func WithRecords(r RecordRepository) ServiceOption {
	return func(s *Service) { s.records = r }
}

// WithDocuments archives every generated document in d.
func WithDocuments(d DocumentRepository) ServiceOption {
	return func(s *Service) { s.documents = d }
}

func WithMetrics(m *Metrics) ServiceOption {
	return func(s *Service) { s.metrics = m }
}

func WithLogger(l zerolog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithBuilderOptions appends options to every builder the service creates.
func WithBuilderOptions(opts ...builder.Option) ServiceOption {
	return func(s *Service) { s.builderOpts = append(s.builderOpts, opts...) }
}

// NewService creates a Service rendering with gen. The section and profile
// registries are shared by every build.
func NewService(cfg Config, gen *narrative.Generator, opts ...ServiceOption) *Service {
	s := &Service{
		cfg:       cfg,
		registry:  section.NewRegistry(),
		profiles:  profile.NewRegistry(),
		generator: gen,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.generator == nil {
		s.generator = narrative.NewGenerator(narrative.WithLogger(s.logger))
	}
	return s
}

func (s *Service) newBuilder() *builder.Builder {
	compositions, ipsDocuments := s.cfg.CompositionSections, s.cfg.IPSSections
	if s.cfg.Sections != nil {
		compositions, ipsDocuments = s.cfg.Sections()
	}
	opts := []builder.Option{
		builder.WithRegistry(s.registry),
		builder.WithGenerator(s.generator),
		builder.WithProfiles(s.profiles),
		builder.WithLogger(s.logger),
		builder.WithSummarySections(compositions, ipsDocuments),
	}
	return builder.New(append(opts, s.builderOpts...)...)
}

func (s *Service) timezone(tz string) string {
	if tz != "" {
		return tz
	}
	return s.cfg.Timezone
}

// GenerateFromBundle builds an IPS document from the records of bundle.
func (s *Service) GenerateFromBundle(ctx context.Context, bundle fhir.Resource, opts GenerateOptions) (fhir.Resource, error) {
	start := time.Now()
	doc, err := s.generate(opts, func(b *builder.Builder, tz string) error {
		return b.ReadBundle(bundle, tz, opts.SummaryMode)
	})
	s.metrics.observeBuild(SourceBundle, err, time.Since(start))
	if err != nil {
		return nil, err
	}
	s.archive(ctx, doc)
	return doc, nil
}

// GenerateForPatient builds an IPS document from the stored records of the
// patient.
func (s *Service) GenerateForPatient(ctx context.Context, patientID string, opts GenerateOptions) (fhir.Resource, error) {
	if patientID == "" {
		return nil, ErrPatientIDRequired
	}
	if s.records == nil {
		return nil, ErrSourceUnavailable
	}

	start := time.Now()
	doc, err := s.generatePatient(ctx, patientID, opts)
	s.metrics.observeBuild(SourcePatient, err, time.Since(start))
	if err != nil {
		return nil, err
	}
	s.archive(ctx, doc)
	return doc, nil
}

func (s *Service) generatePatient(ctx context.Context, patientID string, opts GenerateOptions) (fhir.Resource, error) {
	records, err := s.records.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, fmt.Errorf("load records of patient %s: %w", patientID, err)
	}
	if len(records) == 0 {
		return nil, ErrPatientNotFound
	}
	return s.generate(opts, func(b *builder.Builder, tz string) error {
		return b.ReadRecords(records, tz, opts.SummaryMode)
	})
}

func (s *Service) generate(opts GenerateOptions, read func(b *builder.Builder, tz string) error) (fhir.Resource, error) {
	b := s.newBuilder()
	tz := s.timezone(opts.TZ)
	if err := read(b, tz); err != nil {
		return nil, err
	}
	return b.BuildBundle(s.cfg.OrgID, s.cfg.OrgName, s.cfg.BaseURL, tz, builder.BundleOptions{Now: opts.Now})
}

// archive stores doc when a document repository is configured. A failed
// save does not fail the request.
func (s *Service) archive(ctx context.Context, bundle fhir.Resource) {
	if s.documents == nil {
		return
	}
	doc := NewDocument(bundle)
	if err := s.documents.Save(ctx, doc); err != nil {
		s.loggerFor(ctx).Error().Err(err).Str("document", doc.ID).Str("patient", doc.PatientID).
			Msg("failed to archive summary document")
	}
}

// loggerFor prefers the request-scoped logger carried by ctx.
func (s *Service) loggerFor(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.logger
}

// LatestDocument returns the most recent archived document of the patient.
func (s *Service) LatestDocument(ctx context.Context, patientID string) (*Document, error) {
	if patientID == "" {
		return nil, ErrPatientIDRequired
	}
	if s.documents == nil {
		return nil, ErrSourceUnavailable
	}
	return s.documents.LatestByPatient(ctx, patientID)
}

// Narrative renders the narrative of one section kind from the records of
// bundle and returns it wrapped in the XHTML root div.
func (s *Service) Narrative(ctx context.Context, kind section.Kind, bundle fhir.Resource, tz string) (string, error) {
	if _, err := s.registry.Definition(kind); err != nil {
		return "", err
	}
	records, err := fhir.BundleResources(bundle)
	if err != nil {
		return "", err
	}
	selected := s.registry.Classify(records, kind)
	if len(selected) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoSectionRecords, kind)
	}
	markup, _ := s.generator.Generate(kind, selected, s.generator.Utilities(records), s.timezone(tz))
	return fhir.WrapDiv(markup), nil
}

// Markdown renders an IPS document bundle as Markdown.
func (s *Service) Markdown(bundle fhir.Resource) (string, error) {
	return markdown.FromBundle(bundle)
}
