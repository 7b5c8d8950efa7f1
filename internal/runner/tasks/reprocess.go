package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/citizenspring/website/internal/models"
	"github.com/citizenspring/website/internal/runner"
)

type emailProcessor interface {
	Process(ctx context.Context, email *models.InboundEmail) (string, error)
}

type failedJournal interface {
	ListByStatus(ctx context.Context, status string, limit int) ([]*models.StoredInboundEmail, error)
	MarkDone(ctx context.Context, id int) error
	MarkFailed(ctx context.Context, id int, cause string) error
}

// ReprocessTask replays stored inbound payloads that failed the pipeline.
// The processor it runs must not journal, since this task owns the
// status transitions of the original rows.
type ReprocessTask struct {
	processor emailProcessor
	journal   failedJournal
	schedule  string
	batch     int
	logger    *log.Logger
}

func NewReprocessTask(processor emailProcessor, journal failedJournal, schedule string, batch int) runner.Task {
	if batch <= 0 {
		batch = 20
	}
	return &ReprocessTask{
		processor: processor,
		journal:   journal,
		schedule:  schedule,
		batch:     batch,
		logger:    log.New(log.Writer(), "[reprocess] ", log.LstdFlags),
	}
}

func (t *ReprocessTask) Name() string {
	return "inbound-reprocess"
}

func (t *ReprocessTask) Schedule() string {
	return t.schedule
}

func (t *ReprocessTask) Timeout() time.Duration {
	return 5 * time.Minute
}

// Run replays one batch of failed payloads. A payload that fails again
// stays FAILED with the new cause; one that cannot even be decoded is
// also marked FAILED so the row keeps its diagnostic.
func (t *ReprocessTask) Run(ctx context.Context) error {
	failed, err := t.journal.ListByStatus(ctx, models.InboundStatusFailed, t.batch)
	if err != nil {
		return fmt.Errorf("failed to list failed emails: %w", err)
	}
	if len(failed) == 0 {
		return nil
	}
	t.logger.Printf("replaying %d failed emails", len(failed))

	var firstErr error
	for _, stored := range failed {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := t.replay(ctx, stored); err != nil {
			t.logger.Printf("email %d failed again: %v", stored.ID, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := t.journal.MarkDone(ctx, stored.ID); err != nil {
			t.logger.Printf("email %d replayed but status update failed: %v", stored.ID, err)
		}
	}
	return firstErr
}

func (t *ReprocessTask) replay(ctx context.Context, stored *models.StoredInboundEmail) error {
	var email models.InboundEmail
	if err := json.Unmarshal(stored.Payload, &email); err != nil {
		err = fmt.Errorf("failed to decode stored payload: %w", err)
		t.markFailed(ctx, stored.ID, err)
		return err
	}
	if _, err := t.processor.Process(ctx, &email); err != nil {
		t.markFailed(ctx, stored.ID, err)
		return err
	}
	return nil
}

func (t *ReprocessTask) markFailed(ctx context.Context, id int, cause error) {
	if err := t.journal.MarkFailed(ctx, id, cause.Error()); err != nil {
		t.logger.Printf("email %d: failure update failed: %v", id, err)
	}
}
