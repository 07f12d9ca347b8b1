package summary

import (
	"context"

	"github.com/ehr/ips/internal/platform/fhir"
)

// RecordRepository loads the clinical records of one patient, the Patient
// resource included. An unknown patient yields an empty list.
type RecordRepository interface {
	ListByPatient(ctx context.Context, patientID string) ([]fhir.Resource, error)
}

// DocumentRepository archives generated documents.
type DocumentRepository interface {
	Save(ctx context.Context, doc *Document) error
	LatestByPatient(ctx context.Context, patientID string) (*Document, error)
}
