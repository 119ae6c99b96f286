package orchestrators

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	outboxStore "pandaconnect/internal/adapters/storage/outbox"
	"pandaconnect/internal/domain/event"
	domain "pandaconnect/internal/domain/outbox"
)

// OutboxWriter records notifications that could not be delivered inline.
type OutboxWriter interface {
	Save(ctx context.Context, e domain.Entry) error
}

// newOutboxEntry captures the event as it was when the write committed.
func newOutboxEntry(name string, e event.Event, now time.Time) (domain.Entry, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return domain.Entry{}, fmt.Errorf("marshal outbox payload: %w", err)
	}
	entry := domain.Entry{
		ID:        uuid.New().String(),
		Name:      name,
		EventID:   e.ID,
		Payload:   string(payload),
		Status:    domain.StatusPending,
		CreatedAt: now,
	}
	if err := entry.Validate(); err != nil {
		return domain.Entry{}, err
	}
	return entry, nil
}

// OutboxProcessor redelivers change notifications the broker rejected.
type OutboxProcessor struct {
	store     outboxStore.Store
	publisher EventPublisher
	now       func() time.Time
	baseDelay time.Duration
	maxDelay  time.Duration
	batchSize int
}

// NewOutboxProcessor creates a new outbox processor.
func NewOutboxProcessor(store outboxStore.Store, publisher EventPublisher) *OutboxProcessor {
	return &OutboxProcessor{
		store:     store,
		publisher: publisher,
		now:       time.Now,
		baseDelay: 30 * time.Second,
		maxDelay:  1 * time.Hour,
		batchSize: 50,
	}
}

// ProcessPending redelivers pending entries whose backoff has elapsed.
// PRE: Context is valid
// POST: due entries are attempted once; each outcome is saved
func (p *OutboxProcessor) ProcessPending(ctx context.Context) error {
	entries, err := p.store.ListPending(ctx, p.batchSize)
	if err != nil {
		return fmt.Errorf("list pending outbox entries: %w", err)
	}

	var delivered, failed int
	for _, entry := range entries {
		if !entry.Due(p.now(), p.baseDelay, p.maxDelay) {
			continue
		}
		if err := p.deliver(ctx, entry); err != nil {
			failed++
			continue
		}
		delivered++
	}
	if delivered+failed > 0 {
		slog.Info("outbox_processed", "delivered", delivered, "failed", failed)
	}
	return nil
}

// deliver attempts one redelivery and saves the outcome. The returned error is the delivery error.
func (p *OutboxProcessor) deliver(ctx context.Context, entry domain.Entry) error {
	entry.MarkAttempt(p.now())

	var e event.Event
	err := json.Unmarshal([]byte(entry.Payload), &e)
	if err != nil {
		// A payload that cannot decode will never deliver.
		entry.Attempts = entry.MaxAttempts
		err = fmt.Errorf("unmarshal payload: %w", err)
	} else {
		err = p.publisher.Publish(ctx, entry.Name, e)
	}

	if err != nil {
		entry.MarkFailed(err)
		slog.Warn("outbox_delivery_failed", "entry_id", entry.ID, "name", entry.Name, "attempt", entry.Attempts, "error", err.Error())
	} else {
		entry.MarkSuccess()
		slog.Info("outbox_delivered", "entry_id", entry.ID, "name", entry.Name, "event_id", entry.EventID, "attempt", entry.Attempts)
	}

	if saveErr := p.store.Save(ctx, entry); saveErr != nil {
		slog.Error("outbox_save_failed", "entry_id", entry.ID, "error", saveErr.Error())
	}
	return err
}

// ProcessSingle redelivers one entry now, ignoring backoff. A failed entry is granted one more attempt.
// PRE: entryID is non-empty
// POST: returns domain.ErrTerminalEntry for delivered or abandoned entries
func (p *OutboxProcessor) ProcessSingle(ctx context.Context, entryID string) (domain.Entry, error) {
	entry, err := p.store.GetByID(ctx, entryID)
	if err != nil {
		return domain.Entry{}, err
	}
	if entry.Status == domain.StatusDone || entry.Status == domain.StatusAbandoned {
		return entry, domain.ErrTerminalEntry
	}
	if entry.Attempts >= entry.MaxAttempts {
		entry.MaxAttempts = entry.Attempts + 1
	}
	if err := p.deliver(ctx, entry); err != nil {
		return domain.Entry{}, err
	}
	return p.store.GetByID(ctx, entryID)
}

// AbandonEntry marks an entry as abandoned so it is never redelivered.
// PRE: entryID is non-empty
func (p *OutboxProcessor) AbandonEntry(ctx context.Context, entryID string) error {
	entry, err := p.store.GetByID(ctx, entryID)
	if err != nil {
		return err
	}
	if entry.Status == domain.StatusDone {
		return domain.ErrTerminalEntry
	}
	entry.MarkAbandoned()
	slog.Info("outbox_abandoned", "entry_id", entry.ID, "name", entry.Name, "event_id", entry.EventID)
	return p.store.Save(ctx, entry)
}

// StartBackgroundWorker starts a background goroutine that periodically processes pending outbox entries.
// PRE: stopCh is provided to signal shutdown
// POST: Worker runs until stopCh is closed
func StartBackgroundWorker(processor *OutboxProcessor, interval time.Duration, stopCh <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
				if err := processor.ProcessPending(ctx); err != nil {
					slog.Error("outbox_background_process_failed", "error", err.Error())
				}
				cancel()
			case <-stopCh:
				slog.Info("outbox_background_worker_stopped")
				return
			}
		}
	}()
}
