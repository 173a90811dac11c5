package metering

import (
	"context"
	"time"

	"github.com/FormLoom/FormLoom/app/models"
	"github.com/FormLoom/FormLoom/app/repository"
	"github.com/gofiber/fiber/v2/log"
)

// Usage event names reported upstream.
const (
	EventFormCreated        = "form.created"
	EventSubmissionReceived = "submission.received"
	EventMeterReset         = "meter.reset"
)

// IngestAPI is the upstream event surface.
type IngestAPI interface {
	IngestEvent(ctx context.Context, providerCustomerID, eventName, meter string, quantity int64) error
}

// Ingestor records usage events locally (the append-only MeterEvent audit)
// and reports them upstream. A failed send is marked failed and retried by
// the hourly sweep; it is never retried inline with the triggering request.
type Ingestor struct {
	events    repository.MeterEventRepository
	customers CustomerStore
	client    IngestAPI
}

func NewIngestor(events repository.MeterEventRepository, customers CustomerStore, client IngestAPI) *Ingestor {
	return &Ingestor{events: events, customers: customers, client: client}
}

// Record appends the audit row and attempts a single upstream send.
func (i *Ingestor) Record(ctx context.Context, userID uint, eventName, meterType string, quantity int64) error {
	event := &models.MeterEvent{
		UserID:          userID,
		EventName:       eventName,
		MeterType:       meterType,
		Quantity:        quantity,
		IngestionStatus: models.MeterIngestionPending,
	}
	if err := i.events.Create(event); err != nil {
		return err
	}

	if err := i.send(ctx, event); err != nil {
		log.Warnf("metering: ingest of %s for user %d failed, queued for retry: %v", eventName, userID, err)
		if markErr := i.events.MarkFailed(event.ID, err.Error()); markErr != nil {
			return markErr
		}
		return nil
	}
	return i.events.MarkSent(event.ID)
}

// ResetCounters reports a meter reset for both quota dimensions. Invoked on
// upgrade, when a new entitlement period begins.
func (i *Ingestor) ResetCounters(ctx context.Context, userID uint) error {
	if err := i.Record(ctx, userID, EventMeterReset, models.MeterTypeForms, 0); err != nil {
		return err
	}
	return i.Record(ctx, userID, EventMeterReset, models.MeterTypeSubmissions, 0)
}

// RetryFailed re-sends events that failed within the retry window (last 24
// hours). Older failures stay in the audit trail but are no longer retried.
func (i *Ingestor) RetryFailed(ctx context.Context) (int, error) {
	failed, err := i.events.ListFailedSince(time.Now().Add(-24 * time.Hour))
	if err != nil {
		return 0, err
	}

	retried := 0
	for _, event := range failed {
		if err := i.send(ctx, &event); err != nil {
			if markErr := i.events.MarkFailed(event.ID, err.Error()); markErr != nil {
				log.Errorf("metering: could not update failed event %d: %v", event.ID, markErr)
			}
			continue
		}
		if err := i.events.MarkSent(event.ID); err != nil {
			log.Errorf("metering: could not mark event %d sent: %v", event.ID, err)
			continue
		}
		retried++
	}
	return retried, nil
}

func (i *Ingestor) send(ctx context.Context, event *models.MeterEvent) error {
	customer, err := i.customers.ExternalCustomerForUser(event.UserID)
	if err != nil {
		return err
	}
	return i.client.IngestEvent(ctx, customer.ProviderCustomerID, event.EventName, event.MeterType, event.Quantity)
}
