package summary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ehr/ips/internal/platform/fhir"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== Clinical Record Repository ===========

type recordRepoPG struct{ db queryable }

func NewRecordRepoPG(db queryable) RecordRepository { return &recordRepoPG{db: db} }

func (r *recordRepoPG) ListByPatient(ctx context.Context, patientID string) ([]fhir.Resource, error) {
	rows, err := r.db.Query(ctx, `
		SELECT resource FROM clinical_records
		WHERE patient_id = $1
		ORDER BY (resource_type = 'Patient') DESC, resource_type, id`, patientID)
	if err != nil {
		return nil, fmt.Errorf("query clinical records: %w", err)
	}
	defer rows.Close()

	var records []fhir.Resource
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan clinical record: %w", err)
		}
		var rec fhir.Resource
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode clinical record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clinical records: %w", err)
	}
	return records, nil
}

// =========== Summary Document Repository ===========

type documentRepoPG struct{ db queryable }

func NewDocumentRepoPG(db queryable) DocumentRepository { return &documentRepoPG{db: db} }

func (r *documentRepoPG) Save(ctx context.Context, doc *Document) error {
	raw, err := json.Marshal(doc.Bundle)
	if err != nil {
		return fmt.Errorf("encode document bundle: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO summary_documents (id, patient_id, composition_id, generated_at, bundle)
		VALUES ($1, $2, $3, $4, $5)`,
		doc.ID, doc.PatientID, doc.CompositionID, doc.GeneratedAt, raw)
	if err != nil {
		return fmt.Errorf("insert summary document: %w", err)
	}
	return nil
}

func (r *documentRepoPG) LatestByPatient(ctx context.Context, patientID string) (*Document, error) {
	var doc Document
	var raw []byte
	err := r.db.QueryRow(ctx, `
		SELECT id, patient_id, composition_id, generated_at, bundle
		FROM summary_documents WHERE patient_id = $1
		ORDER BY generated_at DESC LIMIT 1`, patientID).
		Scan(&doc.ID, &doc.PatientID, &doc.CompositionID, &doc.GeneratedAt, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query summary document: %w", err)
	}
	if err := json.Unmarshal(raw, &doc.Bundle); err != nil {
		return nil, fmt.Errorf("decode summary document: %w", err)
	}
	return &doc, nil
}
