package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/vade/internal/assistant"
	"github.com/ashureev/vade/internal/domain"
	"github.com/ashureev/vade/internal/workspace"
)

// Loop is the reconciliation loop. It owns the single in-flight lock: at
// most one turn is awaiting a reply at any time, and the lock is released
// on every completion path.
type Loop struct {
	store      *workspace.Store
	transcript *workspace.Transcript
	logger     *slog.Logger
	convLog    ConversationLogger

	sessionMu sync.RWMutex
	session   assistant.Session

	inFlight atomic.Bool
	pristine atomic.Bool
	wg       sync.WaitGroup

	// notifyMu orders lock transitions and their notifications, so a turn's
	// release is always observed before the next turn's acquire.
	notifyMu    sync.Mutex
	observersMu sync.RWMutex
	observers   []Observer
}

// NewLoop creates an idle loop with no session. Call SetSession before the
// first turn.
func NewLoop(store *workspace.Store, transcript *workspace.Transcript, convLog ConversationLogger, logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	if convLog == nil {
		convLog = noopConversationLogger{}
	}
	l := &Loop{
		store:      store,
		transcript: transcript,
		logger:     logger,
		convLog:    convLog,
	}
	l.pristine.Store(true)
	return l
}

// SetSession installs the assistant session.
func (l *Loop) SetSession(s assistant.Session) {
	l.sessionMu.Lock()
	defer l.sessionMu.Unlock()
	l.session = s
}

// Session returns the installed session, or nil.
func (l *Loop) Session() assistant.Session {
	l.sessionMu.RLock()
	defer l.sessionMu.RUnlock()
	return l.session
}

// AddObserver registers o for busy and turn notifications.
func (l *Loop) AddObserver(o Observer) {
	l.observersMu.Lock()
	defer l.observersMu.Unlock()
	l.observers = append(l.observers, o)
}

// Busy reports whether a turn is in flight.
func (l *Loop) Busy() bool {
	return l.inFlight.Load()
}

// State returns the current loop state.
func (l *Loop) State() State {
	if l.inFlight.Load() {
		return StateAwaitingResponse
	}
	return StateIdle
}

// Pristine reports whether no turn has been accepted yet.
func (l *Loop) Pristine() bool {
	return l.pristine.Load()
}

// SetPristine restores the pristine flag, e.g. from persisted state.
func (l *Loop) SetPristine(p bool) {
	l.pristine.Store(p)
}

// Start begins a turn. The user message and the empty model placeholder are
// appended and the prompt is built before Start returns; the round-trip
// runs in the background and is not cancelled with ctx.
func (l *Loop) Start(ctx context.Context, text, extraContext string) (*Turn, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	session := l.Session()
	if session == nil {
		return nil, ErrNoSession
	}
	if !l.inFlight.CompareAndSwap(false, true) {
		return nil, ErrTurnInFlight
	}
	l.pristine.Store(false)
	l.notifyMu.Lock()
	l.notifyBusy(true)
	l.notifyMu.Unlock()

	userMsg := l.transcript.Append(domain.RoleUser, text)
	placeholder := l.transcript.Append(domain.RoleModel, "")

	turn := &Turn{
		ID:            uuid.NewString(),
		UserMessageID: userMsg.ID,
		PlaceholderID: placeholder.ID,
		Prompt:        BuildPrompt(extraContext, l.store.Snapshot(), text),
		StartedAt:     time.Now().UTC(),
		done:          make(chan struct{}),
	}

	channel := "chat"
	if extraContext != "" {
		channel = "inline_edit"
	}
	l.logger.Info("Turn started", "turn_id", turn.ID, "channel", channel, "message_length", len(text))
	l.convLog.Log(ConversationLogEvent{
		Timestamp:  turn.StartedAt.Format(time.RFC3339Nano),
		TurnID:     turn.ID,
		Channel:    channel,
		Direction:  "outbound",
		EventType:  "user_message",
		ContentRaw: text,
		Content:    cleanForReadability(text),
		Meta: map[string]any{
			"prompt_length": len(turn.Prompt),
		},
	})

	l.wg.Add(1)
	go l.complete(context.WithoutCancel(ctx), session, turn, text, channel)
	return turn, nil
}

// Run starts a turn and waits for it to finish.
func (l *Loop) Run(ctx context.Context, text, extraContext string) (domain.TurnRecord, error) {
	turn, err := l.Start(ctx, text, extraContext)
	if err != nil {
		return domain.TurnRecord{}, err
	}
	return turn.Wait(), nil
}

// Wait blocks until every started turn has finished.
func (l *Loop) Wait() {
	l.wg.Wait()
}

func (l *Loop) complete(ctx context.Context, session assistant.Session, turn *Turn, text, channel string) {
	defer l.wg.Done()

	rec := domain.TurnRecord{
		ID:        turn.ID,
		UserText:  text,
		StartedAt: turn.StartedAt,
	}

	defer func() {
		rec.FinishedAt = time.Now().UTC()
		turn.record = rec

		l.notifyMu.Lock()
		l.inFlight.Store(false)
		l.notifyBusy(false)
		l.notifyFinish(ctx, rec)
		l.notifyMu.Unlock()

		close(turn.done)
	}()

	raw, err := sendTurn(ctx, session, turn.Prompt)
	if err != nil {
		msg := err.Error()
		if msg == "" {
			msg = FallbackErrorText
		}
		rec.Outcome = domain.TurnTransportFailure
		rec.Error = msg
		rec.ReplyText = msg
		l.transcript.SetText(turn.PlaceholderID, msg)
		l.logger.Error("Assistant request failed", "turn_id", turn.ID, "kind", "transport", "error", err)
		l.logReply(turn.ID, channel, "", rec)
		return
	}

	parsed, err := assistant.Decode(raw)
	if err != nil {
		rec.Outcome = domain.TurnContractViolation
		rec.Error = err.Error()
		rec.ReplyText = InvalidResponseText
		l.transcript.SetText(turn.PlaceholderID, InvalidResponseText)
		l.logger.Warn("Assistant reply violates contract", "turn_id", turn.ID, "kind", "contract", "error", err, "reply_length", len(raw))
		l.logReply(turn.ID, channel, raw, rec)
		return
	}

	if len(parsed.Updates) > 0 {
		rec.Updated = l.store.Apply(parsed.Updates)
	}
	explanation := parsed.Explanation
	if explanation == "" {
		explanation = FallbackExplanation
	}
	rec.Outcome = domain.TurnApplied
	rec.ReplyText = explanation
	l.transcript.SetText(turn.PlaceholderID, explanation)

	l.logger.Info("Turn applied", "turn_id", turn.ID, "updates", len(rec.Updated))
	l.logReply(turn.ID, channel, raw, rec)
}

// sendTurn converts a panicking session into a transport failure so the
// in-flight lock is still released through the normal path.
func sendTurn(ctx context.Context, session assistant.Session, prompt string) (raw string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = assistant.NewTransportError("", fmt.Errorf("assistant session panicked: %v", r))
		}
	}()
	raw, err = session.SendTurn(ctx, prompt)
	if err != nil && !assistant.IsTransport(err) {
		err = assistant.NewTransportError("", err)
	}
	return raw, err
}

func (l *Loop) logReply(turnID, channel, raw string, rec domain.TurnRecord) {
	meta := map[string]any{
		"outcome": string(rec.Outcome),
		"updated": rec.Updated,
	}
	if rec.Error != "" {
		meta["error"] = rec.Error
	}
	content := raw
	if content == "" {
		content = rec.ReplyText
	}
	l.convLog.Log(ConversationLogEvent{
		Timestamp:  time.Now().UTC().Format(time.RFC3339Nano),
		TurnID:     turnID,
		Channel:    channel,
		Direction:  "inbound",
		EventType:  "assistant_reply",
		ContentRaw: content,
		Content:    cleanForReadability(rec.ReplyText),
		Meta:       meta,
	})
}

func (l *Loop) snapshotObservers() []Observer {
	l.observersMu.RLock()
	defer l.observersMu.RUnlock()
	out := make([]Observer, len(l.observers))
	copy(out, l.observers)
	return out
}

func (l *Loop) notifyBusy(busy bool) {
	for _, o := range l.snapshotObservers() {
		o.BusyChanged(busy)
	}
}

func (l *Loop) notifyFinish(ctx context.Context, rec domain.TurnRecord) {
	for _, o := range l.snapshotObservers() {
		o.TurnFinished(ctx, rec)
	}
}

// IsRejection reports whether err is one of the Start rejections.
func IsRejection(err error) bool {
	return errors.Is(err, ErrEmptyInput) || errors.Is(err, ErrTurnInFlight) || errors.Is(err, ErrNoSession)
}
