// Package summary exposes IPS document generation as a service: it loads
// patient records, runs the document builder, records metrics and keeps
// the generated documents.
package summary

import (
	"errors"
	"time"

	"github.com/ehr/ips/internal/platform/fhir"
)

var (
	ErrPatientNotFound   = errors.New("no records found for patient")
	ErrSourceUnavailable = errors.New("patient record source unavailable")
	ErrNoSectionRecords  = errors.New("no records belong to the requested section")
	ErrPatientIDRequired = errors.New("patient id is required")
)

// Document is a generated IPS document Bundle as archived in
// summary_documents.
type Document struct {
	ID            string
	PatientID     string
	CompositionID string
	GeneratedAt   time.Time
	Bundle        fhir.Resource
}

// GenerateOptions are the per-request knobs of document generation.
type GenerateOptions struct {
	// TZ is the IANA zone used for times in narratives. Empty means the
	// service default.
	TZ string
	// SummaryMode reuses the rows of prior summaries found among the records.
	SummaryMode bool
	// Now fixes the document timestamp. Zero means the current time.
	Now time.Time
}

// NewDocument extracts the archive columns from a generated document Bundle.
func NewDocument(bundle fhir.Resource) *Document {
	doc := &Document{ID: fhir.ResourceID(bundle), Bundle: bundle}
	if ts, err := time.Parse(time.RFC3339, fhir.GetString(bundle, "timestamp")); err == nil {
		doc.GeneratedAt = ts
	}
	resources, _ := fhir.BundleResources(bundle)
	for _, r := range resources {
		if fhir.IsType(r, "Composition") {
			doc.CompositionID = fhir.ResourceID(r)
			if _, id, ok := fhir.ParseReference(fhir.ReferenceOf(r, "subject")); ok {
				doc.PatientID = id
			}
			break
		}
	}
	return doc
}
