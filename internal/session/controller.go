// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jeranaias/routerchat/internal/cloud"
	"github.com/jeranaias/routerchat/internal/model"
	"github.com/jeranaias/routerchat/internal/telemetry"
	"github.com/jeranaias/routerchat/internal/transcript"
	"github.com/jeranaias/routerchat/internal/usage"
)

// =============================================================================
// ERRORS
// =============================================================================

// GuidanceError is a precondition failure the user can fix.
type GuidanceError struct {
	Reason string
	Hint   string
}

// Error implements the error interface.
func (e *GuidanceError) Error() string {
	return e.Reason + ". " + e.Hint
}

var (
	// ErrNoCredential means no API key is configured.
	ErrNoCredential = &GuidanceError{
		Reason: "No OpenRouter API key is set",
		Hint:   "Run `routerchat key set` or export OPENROUTER_API_KEY.",
	}

	// ErrNoModel means no model is selected.
	ErrNoModel = &GuidanceError{
		Reason: "No model is selected",
		Hint:   "Pick one with /model <id> or pass --model.",
	}

	// ErrBusy means a reply is still streaming.
	ErrBusy = errors.New("a reply is still streaming")
)

// =============================================================================
// COLLABORATORS
// =============================================================================

// Streamer opens streaming completions. *cloud.Client implements it.
type Streamer interface {
	IsConfigured() bool
	StreamChat(ctx context.Context, req cloud.ChatRequest) (*cloud.Stream, error)
}

// Reconciler closes out a reply with usage data. *usage.Reconciler
// implements it.
type Reconciler interface {
	Reconcile(ctx context.Context, req usage.Request) usage.Outcome
}

// =============================================================================
// CONTROLLER
// =============================================================================

// Controller runs conversation turns against one transcript.
type Controller struct {
	streamer   Streamer
	reconciler Reconciler
	transcript *transcript.Transcript

	mu           sync.RWMutex
	systemPrompt string
	modelRef     model.ModelRef
	dirty        bool

	streaming   atomic.Bool
	reconciling atomic.Int32

	// Background reconciliations outlive the caller's context and run on
	// baseCtx, which Close cancels.
	async      bool
	baseCtx    context.Context
	cancelBase context.CancelFunc
	wg         sync.WaitGroup

	tracer  trace.Tracer
	metrics *telemetry.Metrics
	logger  *zap.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithModel sets the initial model.
func WithModel(ref model.ModelRef) Option {
	return func(c *Controller) { c.modelRef = ref }
}

// WithSystemPrompt sets the initial system prompt.
func WithSystemPrompt(prompt string) Option {
	return func(c *Controller) { c.systemPrompt = prompt }
}

// WithAsyncReconcile makes SendMessage return as soon as the stream ends,
// reconciling in the background. Interactive front ends want this.
func WithAsyncReconcile(async bool) Option {
	return func(c *Controller) { c.async = async }
}

// WithTranscript uses an existing transcript instead of a fresh one.
func WithTranscript(t *transcript.Transcript) Option {
	return func(c *Controller) {
		if t != nil {
			c.transcript = t
		}
	}
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(c *Controller) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewController creates a controller. The reconciler must report to the
// same transcript the controller writes to (see Transcript).
func NewController(streamer Streamer, reconciler Reconciler, opts ...Option) *Controller {
	baseCtx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		streamer:   streamer,
		reconciler: reconciler,
		transcript: transcript.New(),
		baseCtx:    baseCtx,
		cancelBase: cancel,
		tracer:     telemetry.Tracer(nil),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "session"))
	return c
}

// Transcript returns the live transcript.
func (c *Controller) Transcript() *transcript.Transcript {
	return c.transcript
}

// IsLoading reports whether a reply is streaming. New messages are
// refused while it is true.
func (c *Controller) IsLoading() bool {
	return c.streaming.Load()
}

// Busy reports whether a reply is streaming or still being reconciled.
// Switching conversations is refused while it is true.
func (c *Controller) Busy() bool {
	return c.streaming.Load() || c.reconciling.Load() > 0
}

// Model returns the selected model.
func (c *Controller) Model() model.ModelRef {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.modelRef
}

// SetModel changes the model used for subsequent turns.
func (c *Controller) SetModel(ref model.ModelRef) {
	c.mu.Lock()
	c.modelRef = ref
	c.dirty = true
	c.mu.Unlock()
}

// SystemPrompt returns the system prompt.
func (c *Controller) SystemPrompt() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.systemPrompt
}

// SetSystemPrompt changes the system prompt used for subsequent turns.
func (c *Controller) SetSystemPrompt(prompt string) {
	c.mu.Lock()
	c.systemPrompt = prompt
	c.dirty = true
	c.mu.Unlock()
}

// Dirty reports changes since the last MarkSaved.
func (c *Controller) Dirty() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dirty
}

// MarkSaved clears the dirty flag.
func (c *Controller) MarkSaved() {
	c.mu.Lock()
	c.dirty = false
	c.mu.Unlock()
}

// Snapshot returns a copy of the conversation for persistence.
func (c *Controller) Snapshot() *model.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &model.Session{
		Messages:     c.transcript.Messages(),
		SystemPrompt: c.systemPrompt,
		Model:        c.modelRef,
	}
}

// Load replaces the conversation with a saved one. Refused while Busy.
func (c *Controller) Load(sess *model.Session) error {
	if c.Busy() {
		return ErrBusy
	}
	c.mu.Lock()
	c.systemPrompt = sess.SystemPrompt
	if sess.Model.ModelID != "" {
		c.modelRef = sess.Model
	}
	c.dirty = false
	c.mu.Unlock()
	c.transcript.Replace(sess.Messages)
	return nil
}

// Reset starts a new, empty conversation with the same model and prompt.
// Refused while Busy.
func (c *Controller) Reset() error {
	if c.Busy() {
		return ErrBusy
	}
	c.transcript.Clear()
	c.MarkSaved()
	return nil
}

// Wait blocks until background reconciliations finish.
func (c *Controller) Wait() {
	c.wg.Wait()
}

// Close cancels background reconciliations and waits for them. Each one
// still finalizes its reply with a cancellation note.
func (c *Controller) Close() {
	c.cancelBase()
	c.wg.Wait()
}

// =============================================================================
// SEND MESSAGE
// =============================================================================

// SendMessage runs one turn.
//
// Blank text is ignored. A missing key or model returns a *GuidanceError
// without touching the transcript or the network, and a turn already
// streaming returns ErrBusy. Transport failures are not returned: they
// are written into the reply entry as "Error: ...".
func (c *Controller) SendMessage(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if !c.streamer.IsConfigured() {
		return ErrNoCredential
	}
	ref := c.Model()
	if ref.ModelID == "" {
		return ErrNoModel
	}
	if !c.streaming.CompareAndSwap(false, true) {
		return ErrBusy
	}

	ctx, span := c.tracer.Start(ctx, "session.send_message",
		trace.WithAttributes(
			telemetry.AttrModel.String(ref.ModelID),
			telemetry.AttrMessageLength.Int(len(text)),
		))
	defer span.End()

	history := c.buildHistory(text)

	placeholder := model.NewPlaceholder()
	c.transcript.Append(model.NewUserMessage(text))
	c.transcript.Append(placeholder)
	c.mu.Lock()
	c.dirty = true
	c.mu.Unlock()

	start := time.Now()
	correlationID, replyText, streamErr := c.stream(ctx, ref, history, placeholder.ID)
	c.metrics.RecordStream(ctx, ref.ModelID, time.Since(start), streamErr != nil)
	if streamErr != nil {
		span.RecordError(streamErr)
		span.SetStatus(codes.Error, "stream failed")
		c.logger.Warn("stream failed",
			zap.String("model", ref.ModelID),
			zap.String("generation_id", correlationID),
			zap.Error(streamErr))
	}
	span.SetAttributes(telemetry.AttrGenerationID.String(correlationID))

	c.reconciling.Add(1)
	c.streaming.Store(false)

	req := usage.Request{
		PlaceholderID: placeholder.ID,
		CorrelationID: correlationID,
		Text:          replyText,
		Model:         ref.ModelID,
	}
	if !c.async {
		defer c.reconciling.Add(-1)
		c.reconciler.Reconcile(ctx, req)
		return nil
	}

	rctx := trace.ContextWithSpan(c.baseCtx, span)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.reconciling.Add(-1)
		c.reconciler.Reconcile(rctx, req)
	}()
	return nil
}

// stream drives one streaming request into the placeholder. It returns
// the captured generation id (possibly empty), the accumulated text and
// the transport error, if any, after recording it on the placeholder.
func (c *Controller) stream(ctx context.Context, ref model.ModelRef, history []cloud.ChatMessage, placeholderID string) (string, string, error) {
	stream, err := c.streamer.StreamChat(ctx, cloud.ChatRequest{
		Model:    ref.ModelID,
		Messages: history,
	})
	if err != nil {
		c.transcript.Apply(transcript.StreamFailed{ID: placeholderID, Message: describe(err)})
		return "", "", err
	}
	defer stream.Close()

	for {
		upd, err := stream.Next()
		if errors.Is(err, io.EOF) {
			return stream.CorrelationID(), stream.Text(), nil
		}
		if err != nil {
			c.transcript.Apply(transcript.StreamFailed{
				ID:      placeholderID,
				Partial: stream.Text(),
				Message: describe(err),
			})
			return stream.CorrelationID(), stream.Text(), err
		}

		if upd.IDCaptured {
			c.transcript.Apply(transcript.CorrelationCaptured{ID: placeholderID, CorrelationID: upd.CorrelationID})
		}
		if upd.TextChanged {
			c.transcript.Apply(transcript.TextUpdated{ID: placeholderID, Text: upd.Text})
		}
	}
}

// buildHistory renders the request messages: system prompt first, then
// earlier turns, then the new user text. Error entries and empty replies
// are not sent back to the provider.
func (c *Controller) buildHistory(text string) []cloud.ChatMessage {
	prior := c.transcript.Messages()
	history := make([]cloud.ChatMessage, 0, len(prior)+2)

	if prompt := strings.TrimSpace(c.SystemPrompt()); prompt != "" {
		history = append(history, cloud.ChatMessage{Role: "system", Content: prompt})
	}
	for _, m := range prior {
		if m.IsError || strings.TrimSpace(m.Text) == "" {
			continue
		}
		history = append(history, cloud.ChatMessage{Role: string(m.Sender), Content: m.Text})
	}
	return append(history, cloud.ChatMessage{Role: "user", Content: text})
}

// describe renders a transport failure for the transcript.
func describe(err error) string {
	var apiErr *cloud.APIError
	switch {
	case errors.As(err, &apiErr):
		if apiErr.Message != "" {
			return fmt.Sprintf("HTTP %d: %s", apiErr.Status, apiErr.Message)
		}
		return fmt.Sprintf("HTTP %d", apiErr.Status)
	case errors.Is(err, context.Canceled):
		return "request cancelled"
	case errors.Is(err, context.DeadlineExceeded):
		return "request timed out"
	default:
		return err.Error()
	}
}
