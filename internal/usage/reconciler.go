// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package usage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/jeranaias/routerchat/internal/cloud"
	"github.com/jeranaias/routerchat/internal/model"
	"github.com/jeranaias/routerchat/internal/retry"
	"github.com/jeranaias/routerchat/internal/telemetry"
	"github.com/jeranaias/routerchat/internal/transcript"
)

// Diagnostic notes attached to replies whose usage could not be obtained.
const (
	NoteNoCorrelationID = "no generation id received from stream"
	noteRejectedFmt     = "stats fetch failed: HTTP %d"
	noteExhaustedFmt    = "stats unavailable after %d attempts"
	noteCancelled       = "stats fetch cancelled"
	noteFailedFmt       = "stats fetch failed: %v"
)

// Status is how a reconciliation ended.
type Status int

const (
	// StatusReconciled means authoritative usage was attached.
	StatusReconciled Status = iota
	// StatusNoCorrelationID means the stream never revealed a generation id.
	StatusNoCorrelationID
	// StatusRejected means the endpoint answered with a non-retryable status.
	StatusRejected
	// StatusExhausted means every attempt found the stats not ready.
	StatusExhausted
	// StatusCancelled means the context ended first.
	StatusCancelled
)

// String returns the status name used in logs, metrics and records.
func (s Status) String() string {
	switch s {
	case StatusReconciled:
		return "reconciled"
	case StatusNoCorrelationID:
		return "no_correlation_id"
	case StatusRejected:
		return "rejected"
	case StatusExhausted:
		return "exhausted"
	case StatusCancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// StatsFetcher looks up generation stats. *cloud.Client implements it.
type StatsFetcher interface {
	FetchGeneration(ctx context.Context, id string) (cloud.GenerationStats, error)
}

// Request identifies the reply to reconcile. Text is the reply as
// accumulated by the stream and is written back on finalize.
type Request struct {
	PlaceholderID string
	CorrelationID string
	Text          string
	Model         string
}

// Outcome reports what a reconciliation did.
type Outcome struct {
	Status   Status
	Attempts int
	Stats    cloud.GenerationStats
	Note     string
	Err      error
}

// Reconciler attaches authoritative usage to finished replies.
type Reconciler struct {
	fetcher   StatsFetcher
	sink      transcript.Sink
	policy    retry.Policy
	sleep     retry.SleepFunc
	publisher Publisher
	metrics   *telemetry.Metrics
	tracer    trace.Tracer
	logger    *zap.Logger
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithPolicy overrides the retry policy.
func WithPolicy(p retry.Policy) Option {
	return func(r *Reconciler) { r.policy = p }
}

// WithSleep overrides the wait between attempts (tests use a fake clock).
func WithSleep(fn retry.SleepFunc) Option {
	return func(r *Reconciler) { r.sleep = fn }
}

// WithPublisher sets where usage records go.
func WithPublisher(p Publisher) Option {
	return func(r *Reconciler) {
		if p != nil {
			r.publisher = p
		}
	}
}

// WithMetrics sets the metric instruments.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// WithTracer sets the tracer.
func WithTracer(t trace.Tracer) Option {
	return func(r *Reconciler) {
		if t != nil {
			r.tracer = t
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Reconciler) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewReconciler creates a reconciler that fetches with fetcher and reports
// to sink.
func NewReconciler(fetcher StatsFetcher, sink transcript.Sink, opts ...Option) *Reconciler {
	r := &Reconciler{
		fetcher:   fetcher,
		sink:      sink,
		policy:    retry.DefaultPolicy(),
		sleep:     retry.Sleep,
		publisher: NopPublisher{},
		tracer:    telemetry.Tracer(nil),
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "usage"))
	return r
}

// Reconcile polls for usage and finalizes the reply. It always emits
// exactly one transcript.Finalized, whatever happens.
//
// Without a correlation id it finalizes immediately with no network call.
// Otherwise 404, 429 and 2xx-without-data answers are retried, as are
// transport errors, until the policy's attempt budget is spent. Any other
// HTTP status stops at once.
func (r *Reconciler) Reconcile(ctx context.Context, req Request) Outcome {
	ctx, span := r.tracer.Start(ctx, "usage.reconcile",
		trace.WithAttributes(
			telemetry.AttrModel.String(req.Model),
			telemetry.AttrGenerationID.String(req.CorrelationID),
		))
	defer span.End()

	out := r.reconcile(ctx, req)

	fin := transcript.Finalized{
		PlaceholderID: req.PlaceholderID,
		CorrelationID: req.CorrelationID,
		Text:          req.Text,
		Note:          out.Note,
	}
	if out.Status == StatusReconciled {
		tokens := model.NewTokenUsage(out.Stats.PromptTokens, out.Stats.CompletionTokens)
		fin.Cost = &model.Cost{Total: out.Stats.TotalCost}
		fin.Tokens = &tokens
	}
	r.sink.Apply(fin)

	span.SetAttributes(telemetry.AttrOutcome.String(out.Status.String()))
	if out.Err != nil && out.Status != StatusExhausted {
		span.SetStatus(codes.Error, out.Err.Error())
	}
	r.metrics.RecordReconcile(ctx, out.Status.String(), out.Attempts)
	if out.Status == StatusReconciled {
		r.metrics.RecordUsage(ctx, req.Model, out.Stats.TotalCost, out.Stats.PromptTokens, out.Stats.CompletionTokens)
	}

	r.logger.Info("reply reconciled",
		zap.String("generation_id", req.CorrelationID),
		zap.String("status", out.Status.String()),
		zap.Int("attempts", out.Attempts),
		zap.Float64("cost", out.Stats.TotalCost),
		zap.String("note", out.Note))

	r.publish(ctx, req, out)
	return out
}

func (r *Reconciler) reconcile(ctx context.Context, req Request) Outcome {
	if req.CorrelationID == "" {
		return Outcome{Status: StatusNoCorrelationID, Note: NoteNoCorrelationID}
	}

	var stats cloud.GenerationStats
	runner := retry.Runner{
		Policy:   r.policy,
		Sleep:    r.sleep,
		Classify: classifier(ctx),
		OnRetry: func(attempt int, err error, wait time.Duration) {
			r.logger.Debug("generation stats not ready",
				zap.String("generation_id", req.CorrelationID),
				zap.Int("attempt", attempt+1),
				zap.Duration("wait", wait),
				zap.Error(err))
		},
	}

	res := runner.Do(ctx, func(ctx context.Context, _ int) error {
		s, err := r.fetcher.FetchGeneration(ctx, req.CorrelationID)
		if err != nil {
			return err
		}
		stats = s
		return nil
	})

	out := Outcome{Attempts: res.Attempts, Err: res.Err}
	var apiErr *cloud.APIError
	switch {
	case res.Err == nil:
		out.Status = StatusReconciled
		out.Stats = stats
	case errors.Is(res.Err, retry.ErrExhausted):
		out.Status = StatusExhausted
		out.Note = fmt.Sprintf(noteExhaustedFmt, res.Attempts)
	case ctx.Err() != nil:
		out.Status = StatusCancelled
		out.Note = noteCancelled
	case errors.As(res.Err, &apiErr):
		out.Status = StatusRejected
		out.Note = fmt.Sprintf(noteRejectedFmt, apiErr.Status)
	default:
		out.Status = StatusRejected
		out.Note = fmt.Sprintf(noteFailedFmt, res.Err)
	}
	return out
}

// classifier decides which lookup failures are worth another attempt.
func classifier(ctx context.Context) retry.Classifier {
	return func(err error) retry.Action {
		if ctx.Err() != nil {
			return retry.Stop
		}
		if errors.Is(err, cloud.ErrMissingData) ||
			errors.Is(err, cloud.ErrNotFound) ||
			errors.Is(err, cloud.ErrRateLimited) {
			return retry.Retry
		}
		var apiErr *cloud.APIError
		if errors.As(err, &apiErr) {
			return retry.Stop
		}
		if errors.Is(err, cloud.ErrNotConfigured) {
			return retry.Stop
		}
		// Transport trouble: connection refused, reset, timeouts.
		return retry.Retry
	}
}

func (r *Reconciler) publish(ctx context.Context, req Request, out Outcome) {
	rec := Record{
		GenerationID:     req.CorrelationID,
		MessageID:        req.PlaceholderID,
		Model:            req.Model,
		Status:           out.Status.String(),
		Attempts:         out.Attempts,
		Cost:             out.Stats.TotalCost,
		PromptTokens:     out.Stats.PromptTokens,
		CompletionTokens: out.Stats.CompletionTokens,
		TotalTokens:      out.Stats.PromptTokens + out.Stats.CompletionTokens,
		Note:             out.Note,
		Timestamp:        time.Now().UTC(),
	}

	// Records go out even when ctx is already cancelled.
	pubCtx := context.WithoutCancel(ctx)
	if err := r.publisher.Publish(pubCtx, rec); err != nil {
		r.logger.Warn("usage publish failed", zap.Error(err))
	}
}
