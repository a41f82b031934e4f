package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/onthisday/backend/internal/model/chat"
	"github.com/zhouzirui/onthisday/backend/internal/reveal"
	"github.com/zhouzirui/onthisday/backend/internal/store"
)

var (
	ErrBusy           = errors.New("a request is already in progress")
	ErrEmptyMessage   = errors.New("message content is required")
	ErrNothingToRetry = errors.New("no previous query to retry")
	ErrClosed         = errors.New("session controller is closed")
)

// errUnexpectedFormat is reported when the endpoint answers 2xx without text.
var errUnexpectedFormat = &chat.ErrorResponse{Message: "Received an unexpected response format"}

const (
	failureTemplate = "Sorry, I encountered an error. Please try again. (Error: %s)"
	persistTimeout  = 5 * time.Second
)

// Phase is the controller's presentation state.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseSending   Phase = "sending"
	PhaseRevealing Phase = "revealing"
)

// Reveal describes the assistant message currently being revealed.
type Reveal struct {
	MessageID string `json:"messageId"`
	Shown     string `json:"shown"`
	Full      string `json:"full"`
}

// Snapshot is a consistent copy of the controller state. Reveal is set only
// while Phase is PhaseRevealing.
type Snapshot struct {
	Phase     Phase        `json:"phase"`
	Reveal    *Reveal      `json:"reveal,omitempty"`
	Session   chat.Session `json:"session"`
	LastError string       `json:"lastError,omitempty"`
	CanRetry  bool         `json:"canRetry"`
}

// Transport delivers an envelope to the chat endpoint. Implementations
// return *chat.TransportError when the endpoint could not be reached and
// *chat.ErrorResponse when it answered with an error body.
type Transport interface {
	Chat(ctx context.Context, env chat.Envelope) (string, error)
}

// RetryPolicy bounds the attempts made for transport failures.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration
}

// DefaultRetryPolicy is three attempts one second apart.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Delay: time.Second}
}

// Options tunes a Controller. Zero values fall back to the defaults.
type Options struct {
	Retry  RetryPolicy
	Reveal reveal.Config
	Logger *zap.Logger
	Now    func() time.Time
}

// Controller owns one chat session: it dispatches user messages, retries
// transport failures and drives the reveal of each reply.
type Controller struct {
	transport Transport
	store     store.Store
	scheduler *reveal.Scheduler
	retry     RetryPolicy
	logger    *zap.Logger
	now       func() time.Time

	mu          sync.Mutex
	idle        *sync.Cond
	session     chat.Session
	phase       Phase
	reveal      *Reveal
	lastQuery   string
	lastEnv     chat.Envelope
	lastErr     error
	cancelSend  context.CancelFunc
	closed      bool
	inflight    sync.WaitGroup
	subscribers map[int]func(Snapshot)
	nextSub     int
}

// NewController binds a controller to session. st may be nil for an
// unpersisted session.
func NewController(session chat.Session, transport Transport, st store.Store, opts Options) *Controller {
	if opts.Retry.Attempts < 1 {
		opts.Retry.Attempts = DefaultRetryPolicy().Attempts
	}
	if opts.Retry.Delay < 0 {
		opts.Retry.Delay = 0
	}
	if opts.Reveal == (reveal.Config{}) {
		opts.Reveal = reveal.DefaultConfig()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	c := &Controller{
		transport:   transport,
		store:       st,
		scheduler:   reveal.NewScheduler(opts.Reveal),
		retry:       opts.Retry,
		logger:      opts.Logger.Named("session").With(zap.String("session_id", session.ID)),
		now:         opts.Now,
		session:     session.Clone(),
		phase:       PhaseIdle,
		subscribers: make(map[int]func(Snapshot)),
	}
	if c.session.Title == "" {
		c.session.Title = chat.DefaultTitle
	}
	c.idle = sync.NewCond(&c.mu)
	return c
}

// Submit appends a user message and sends the conversation in the
// background. It fails with ErrBusy unless the controller is idle.
func (c *Controller) Submit(ctx context.Context, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	if err := c.readyLocked(); err != nil {
		c.mu.Unlock()
		return err
	}

	c.session.Append(chat.Message{ID: chat.NewMessageID(), Role: chat.RoleUser, Content: content}, c.now())
	c.lastQuery = content
	c.lastEnv = chat.EnvelopeFrom(c.session.Messages)
	c.persistLocked()

	snap := c.beginSendLocked(ctx, c.lastEnv)
	c.mu.Unlock()

	c.notify(snap)
	return nil
}

// Retry re-sends the last submitted request without appending a new user
// message.
func (c *Controller) Retry(ctx context.Context) error {
	c.mu.Lock()
	if err := c.readyLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.lastQuery == "" {
		c.mu.Unlock()
		return ErrNothingToRetry
	}

	c.logger.Info("retrying last query")
	snap := c.beginSendLocked(ctx, c.lastEnv)
	c.mu.Unlock()

	c.notify(snap)
	return nil
}

func (c *Controller) readyLocked() error {
	if c.closed {
		return ErrClosed
	}
	if c.phase != PhaseIdle {
		return ErrBusy
	}
	return nil
}

func (c *Controller) beginSendLocked(ctx context.Context, env chat.Envelope) Snapshot {
	sendCtx, cancel := context.WithCancel(ctx)
	c.cancelSend = cancel
	c.lastErr = nil
	c.phase = PhaseSending
	c.inflight.Add(1)
	go c.dispatch(sendCtx, cancel, env)
	return c.snapshotLocked()
}

func (c *Controller) dispatch(ctx context.Context, cancel context.CancelFunc, env chat.Envelope) {
	defer c.inflight.Done()
	defer cancel()

	text, err := c.send(ctx, env)
	if err == nil && strings.TrimSpace(text) == "" {
		err = errUnexpectedFormat
	}

	c.mu.Lock()
	c.cancelSend = nil

	if c.closed {
		c.setIdleLocked()
		c.mu.Unlock()
		return
	}

	if err != nil {
		c.logger.Warn("chat request failed", zap.Error(err))
		c.lastErr = err
		c.session.Append(chat.Message{
			ID:      chat.NewMessageID(),
			Role:    chat.RoleAssistant,
			Content: fmt.Sprintf(failureTemplate, errorText(err)),
			Failed:  true,
		}, c.now())
		c.persistLocked()
		c.setIdleLocked()
		snap := c.snapshotLocked()
		c.mu.Unlock()

		c.notify(snap)
		return
	}

	id := chat.NewMessageID()
	c.session.Append(chat.Message{ID: id, Role: chat.RoleAssistant}, c.now())
	c.phase = PhaseRevealing
	c.reveal = &Reveal{MessageID: id, Full: text}
	c.persistLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
	c.scheduler.Start(reveal.Job{
		ID:         id,
		Full:       text,
		OnProgress: c.onProgress,
		OnCommit:   c.onCommit,
	})
}

// send performs up to retry.Attempts calls, retrying only transport errors.
// Each attempt runs under its own context, cancelled before the next starts.
func (c *Controller) send(ctx context.Context, env chat.Envelope) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= c.retry.Attempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, c.retry.Delay); err != nil {
				return "", &chat.TransportError{Err: err}
			}
		}

		attemptCtx, cancel := context.WithCancel(ctx)
		text, err := c.transport.Chat(attemptCtx, env)
		cancel()
		if err == nil {
			return text, nil
		}

		lastErr = err
		if !chat.IsTransient(err) {
			return "", err
		}
		c.logger.Warn("transport failure",
			zap.Int("attempt", attempt),
			zap.Int("remaining", c.retry.Attempts-attempt),
			zap.Error(err),
		)
	}
	return "", lastErr
}

func (c *Controller) onProgress(id, shown string) {
	c.mu.Lock()
	if c.reveal == nil || c.reveal.MessageID != id {
		c.mu.Unlock()
		return
	}
	c.reveal.Shown = shown
	c.session.SetContent(id, shown, c.now())
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
}

func (c *Controller) onCommit(id, full string) {
	c.mu.Lock()
	c.session.SetContent(id, full, c.now())
	if c.reveal != nil && c.reveal.MessageID == id {
		c.reveal = nil
		c.setIdleLocked()
	}
	c.persistLocked()
	snap := c.snapshotLocked()
	c.mu.Unlock()

	c.notify(snap)
}

func (c *Controller) setIdleLocked() {
	c.phase = PhaseIdle
	c.idle.Broadcast()
}

// persistLocked saves the session, leaving out a message still under
// reveal. Store failures are logged and otherwise ignored.
func (c *Controller) persistLocked() {
	if c.store == nil {
		return
	}
	session := c.session
	if c.reveal != nil {
		session = session.Without(c.reveal.MessageID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := c.store.Put(ctx, session.Clone()); err != nil {
		c.logger.Warn("failed to persist session", zap.Error(err))
	}
}

func (c *Controller) snapshotLocked() Snapshot {
	snap := Snapshot{
		Phase:    c.phase,
		Session:  c.session.Clone(),
		CanRetry: c.phase == PhaseIdle && c.lastErr != nil && c.lastQuery != "",
	}
	if c.reveal != nil {
		r := *c.reveal
		snap.Reveal = &r
	}
	if c.lastErr != nil {
		snap.LastError = errorText(c.lastErr)
	}
	return snap
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// LastError returns the error of the most recent failed request, if any.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Subscribe registers fn to receive every state change. Callbacks run on
// the goroutine that made the change and must not call back into Submit,
// Retry or Close synchronously. The returned function unsubscribes.
func (c *Controller) Subscribe(fn func(Snapshot)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = fn
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subscribers, id)
		c.mu.Unlock()
	}
}

func (c *Controller) notify(snap Snapshot) {
	c.mu.Lock()
	fns := make([]func(Snapshot), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// Wait blocks until the controller is idle.
func (c *Controller) Wait() {
	c.mu.Lock()
	for c.phase != PhaseIdle {
		c.idle.Wait()
	}
	c.mu.Unlock()
}

// Close abandons an in-flight request and commits any active reveal in full.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.cancelSend != nil {
		c.cancelSend()
	}
	c.mu.Unlock()

	c.scheduler.Stop()
	c.inflight.Wait()
}

func errorText(err error) string {
	var resp *chat.ErrorResponse
	if errors.As(err, &resp) && resp.Message != "" {
		return resp.Message
	}
	return err.Error()
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
