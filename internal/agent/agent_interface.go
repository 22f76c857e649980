package agent

import (
	"context"

	"github.com/ashureev/vade/internal/domain"
)

// Observer is notified about loop activity. Implementations must not block.
type Observer interface {
	// BusyChanged fires when a turn acquires or releases the in-flight lock.
	BusyChanged(busy bool)

	// TurnFinished fires once per completed turn, right after
	// BusyChanged(false) and before any later turn's BusyChanged(true).
	TurnFinished(ctx context.Context, rec domain.TurnRecord)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are skipped.
type ObserverFuncs struct {
	OnBusy   func(busy bool)
	OnFinish func(ctx context.Context, rec domain.TurnRecord)
}

// BusyChanged implements Observer.
func (o ObserverFuncs) BusyChanged(busy bool) {
	if o.OnBusy != nil {
		o.OnBusy(busy)
	}
}

// TurnFinished implements Observer.
func (o ObserverFuncs) TurnFinished(ctx context.Context, rec domain.TurnRecord) {
	if o.OnFinish != nil {
		o.OnFinish(ctx, rec)
	}
}
