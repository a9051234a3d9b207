package discipline

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/warp/attendance-engine/calendar"
)

// Workflow applies approval decisions to pending records. It is the
// engine-side half of the external approval process.
type Workflow struct {
	Store  Store
	Clock  *calendar.Clock
	Logger *log.Logger
}

// Approve moves a pending record to ACTIVE.
func (w *Workflow) Approve(ctx context.Context, id, actor, note string) (*Record, error) {
	return w.decide(ctx, id, actor, note, (*Record).Approve)
}

// Reject moves a pending record to CANCELLED.
func (w *Workflow) Reject(ctx context.Context, id, actor, note string) (*Record, error) {
	return w.decide(ctx, id, actor, note, (*Record).Reject)
}

func (w *Workflow) decide(ctx context.Context, id, actor, note string, move func(*Record, string, time.Time) error) (*Record, error) {
	rec, err := w.Store.GetRecord(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	if rec == nil {
		return nil, ErrRecordNotFound
	}

	from := rec.State
	if err := move(rec, actor, w.Clock.Now()); err != nil {
		return nil, err
	}
	if note != "" {
		rec.Notes = note
	}

	ok, err := w.Store.TransitionRecord(ctx, id, from, *rec)
	if err != nil {
		return nil, fmt.Errorf("transition record: %w", err)
	}
	if !ok {
		// decided concurrently by someone else
		return nil, &TransitionError{RecordID: id, From: from, To: rec.State}
	}

	l := w.Logger
	if l == nil {
		l = log.Default()
	}
	l.Printf("[Discipline] Record %s %s -> %s by %s", id, from, rec.State, actor)
	return rec, nil
}
