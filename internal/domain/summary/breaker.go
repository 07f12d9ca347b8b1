package summary

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/ehr/ips/internal/platform/fhir"
)

// BreakerSettings configures the circuit breaker around the record source.
type BreakerSettings struct {
	FailureThreshold uint32
	Timeout          time.Duration
}

type breakerRecordRepo struct {
	next RecordRepository
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerRecordRepo wraps next so that after FailureThreshold consecutive
// failures calls fail fast with ErrSourceUnavailable until Timeout elapses.
// Context cancellation does not count as a failure.
func NewBreakerRecordRepo(next RecordRepository, s BreakerSettings, logger zerolog.Logger) RecordRepository {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "clinical-records",
		MaxRequests: 1,
		Timeout:     s.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.FailureThreshold
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("circuit breaker state changed")
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return &breakerRecordRepo{next: next, cb: cb}
}

func (r *breakerRecordRepo) ListByPatient(ctx context.Context, patientID string) ([]fhir.Resource, error) {
	out, err := r.cb.Execute(func() (interface{}, error) {
		return r.next.ListByPatient(ctx, patientID)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, ErrSourceUnavailable
	}
	if err != nil {
		return nil, err
	}
	records, _ := out.([]fhir.Resource)
	return records, nil
}
