// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package usage

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/routerchat/internal/cloud"
	"github.com/jeranaias/routerchat/internal/model"
	"github.com/jeranaias/routerchat/internal/retry"
	"github.com/jeranaias/routerchat/internal/transcript"
)

// scriptedFetcher answers FetchGeneration from a fixed list of results.
type scriptedFetcher struct {
	mu      sync.Mutex
	results []fetchResult
	calls   int
}

type fetchResult struct {
	stats cloud.GenerationStats
	err   error
}

func (f *scriptedFetcher) FetchGeneration(_ context.Context, _ string) (cloud.GenerationStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	return f.results[i].stats, f.results[i].err
}

// fakeClock records waits instead of sleeping.
type fakeClock struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (c *fakeClock) sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.waits = append(c.waits, d)
	c.mu.Unlock()
	return ctx.Err()
}

// capturePublisher keeps published records.
type capturePublisher struct {
	mu      sync.Mutex
	records []Record
}

func (p *capturePublisher) Publish(_ context.Context, rec Record) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.records = append(p.records, rec)
	return nil
}

func (p *capturePublisher) Close() error { return nil }

func notFound() error {
	return cloud.NewAPIError(http.StatusNotFound, "Generation not found")
}

func pendingTranscript(t *testing.T) (*transcript.Transcript, model.ChatMessage) {
	t.Helper()
	tr := transcript.New()
	tr.Append(model.NewUserMessage("q"))
	ph := model.NewPlaceholder()
	tr.Append(ph)
	tr.Apply(transcript.TextUpdated{ID: ph.ID, Text: "answer"})
	return tr, ph
}

func TestReconcile_NoCorrelationID(t *testing.T) {
	tr, ph := pendingTranscript(t)
	fetcher := &scriptedFetcher{results: []fetchResult{{}}}
	pub := &capturePublisher{}
	r := NewReconciler(fetcher, tr, WithPublisher(pub))

	out := r.Reconcile(context.Background(), Request{PlaceholderID: ph.ID})

	assert.Equal(t, StatusNoCorrelationID, out.Status)
	assert.Zero(t, fetcher.calls, "no network call without an id")

	got, ok := tr.Find(ph.ID)
	require.True(t, ok)
	assert.False(t, got.Pending)
	assert.Nil(t, got.Cost)
	assert.Equal(t, NoteNoCorrelationID, got.ReasoningNote)
	require.Len(t, pub.records, 1)
	assert.Equal(t, "no_correlation_id", pub.records[0].Status)
}

// 404, 404, then data: three attempts, waits 4s and 8s, entry re-keyed.
func TestReconcile_SucceedsAfterNotReady(t *testing.T) {
	tr, ph := pendingTranscript(t)
	clock := &fakeClock{}
	fetcher := &scriptedFetcher{results: []fetchResult{
		{err: notFound()},
		{err: notFound()},
		{stats: cloud.GenerationStats{TotalCost: 0.00042, PromptTokens: 12, CompletionTokens: 30}},
	}}
	r := NewReconciler(fetcher, tr, WithSleep(clock.sleep))

	out := r.Reconcile(context.Background(), Request{PlaceholderID: ph.ID, CorrelationID: "gen-abc", Model: "m"})

	assert.Equal(t, StatusReconciled, out.Status)
	assert.Equal(t, 3, out.Attempts)
	assert.Equal(t, []time.Duration{4 * time.Second, 8 * time.Second}, clock.waits)

	got, ok := tr.Find("gen-abc")
	require.True(t, ok)
	assert.Equal(t, "answer", got.Text)
	assert.InDelta(t, 0.00042, got.Cost.Total, 1e-12)
	assert.Equal(t, 42, got.Tokens.TotalTokens)
	assert.Empty(t, got.ReasoningNote)
	assert.InDelta(t, 0.00042, tr.TotalCost(), 1e-12)
}

func TestReconcile_MissingDataCountsAsAttempt(t *testing.T) {
	tr, ph := pendingTranscript(t)
	fetcher := &scriptedFetcher{results: []fetchResult{{err: cloud.ErrMissingData}}}
	r := NewReconciler(fetcher, tr, WithSleep((&fakeClock{}).sleep))

	out := r.Reconcile(context.Background(), Request{PlaceholderID: ph.ID, CorrelationID: "gen-x"})

	assert.Equal(t, StatusExhausted, out.Status)
	assert.Equal(t, 5, fetcher.calls)
	assert.Equal(t, 5, out.Attempts)
}

func TestReconcile_RateLimitedIsRetried(t *testing.T) {
	tr, ph := pendingTranscript(t)
	fetcher := &scriptedFetcher{results: []fetchResult{
		{err: cloud.NewAPIError(http.StatusTooManyRequests, "")},
		{stats: cloud.GenerationStats{TotalCost: 1}},
	}}
	r := NewReconciler(fetcher, tr, WithSleep((&fakeClock{}).sleep))

	out := r.Reconcile(context.Background(), Request{PlaceholderID: ph.ID, CorrelationID: "gen-x"})
	assert.Equal(t, StatusReconciled, out.Status)
	assert.Equal(t, 2, fetcher.calls)
}

// Always 404: exactly five attempts, then finalize with null cost.
func TestReconcile_Exhausted(t *testing.T) {
	tr, ph := pendingTranscript(t)
	clock := &fakeClock{}
	fetcher := &scriptedFetcher{results: []fetchResult{{err: notFound()}}}
	pub := &capturePublisher{}
	r := NewReconciler(fetcher, tr, WithSleep(clock.sleep), WithPublisher(pub))

	out := r.Reconcile(context.Background(), Request{PlaceholderID: ph.ID, CorrelationID: "gen-abc"})

	assert.Equal(t, StatusExhausted, out.Status)
	assert.Equal(t, 5, fetcher.calls)
	assert.Len(t, clock.waits, 4)

	got, ok := tr.Find("gen-abc")
	require.True(t, ok)
	assert.Nil(t, got.Cost)
	assert.Nil(t, got.Tokens)
	assert.False(t, got.Pending)
	assert.Equal(t, "stats unavailable after 5 attempts", got.ReasoningNote)
	assert.Zero(t, tr.TotalCost())
	assert.Equal(t, "exhausted", pub.records[0].Status)
}

// A 500 stops at once: one attempt, null cost.
func TestReconcile_PermanentStatus(t *testing.T) {
	tr, ph := pendingTranscript(t)
	clock := &fakeClock{}
	fetcher := &scriptedFetcher{results: []fetchResult{{err: cloud.NewAPIError(http.StatusInternalServerError, "boom")}}}
	r := NewReconciler(fetcher, tr, WithSleep(clock.sleep))

	out := r.Reconcile(context.Background(), Request{PlaceholderID: ph.ID, CorrelationID: "gen-abc"})

	assert.Equal(t, StatusRejected, out.Status)
	assert.Equal(t, 1, fetcher.calls)
	assert.Empty(t, clock.waits)

	got, ok := tr.Find("gen-abc")
	require.True(t, ok)
	assert.Nil(t, got.Cost)
	assert.Equal(t, "stats fetch failed: HTTP 500", got.ReasoningNote)
}

func TestReconcile_TransportErrorsRetried(t *testing.T) {
	tr, ph := pendingTranscript(t)
	fetcher := &scriptedFetcher{results: []fetchResult{
		{err: errors.New("request failed: connection refused")},
		{stats: cloud.GenerationStats{TotalCost: 0.2, PromptTokens: 1, CompletionTokens: 1}},
	}}
	r := NewReconciler(fetcher, tr, WithSleep((&fakeClock{}).sleep))

	out := r.Reconcile(context.Background(), Request{PlaceholderID: ph.ID, CorrelationID: "gen-t"})
	assert.Equal(t, StatusReconciled, out.Status)
	assert.Equal(t, 2, out.Attempts)
}

// Transport errors that never clear still finalize with null cost.
func TestReconcile_TransportErrorsExhaustBudget(t *testing.T) {
	tr, ph := pendingTranscript(t)
	clock := &fakeClock{}
	fetcher := &scriptedFetcher{results: []fetchResult{
		{err: errors.New("request failed: connection refused")},
	}}
	r := NewReconciler(fetcher, tr, WithSleep(clock.sleep))

	out := r.Reconcile(context.Background(), Request{PlaceholderID: ph.ID, CorrelationID: "gen-down"})

	assert.Equal(t, StatusExhausted, out.Status)
	assert.ErrorIs(t, out.Err, retry.ErrExhausted)
	assert.Equal(t, 5, fetcher.calls)
	assert.Len(t, clock.waits, 4)

	got, ok := tr.Find("gen-down")
	require.True(t, ok)
	assert.False(t, got.Pending)
	assert.Nil(t, got.Cost)
	assert.Nil(t, got.Tokens)
	assert.Equal(t, "stats unavailable after 5 attempts", got.ReasoningNote)
	assert.Equal(t, "answer", got.Text)
}

func TestReconcile_ReaffirmsText(t *testing.T) {
	tr, ph := pendingTranscript(t)
	fetcher := &scriptedFetcher{results: []fetchResult{
		{stats: cloud.GenerationStats{TotalCost: 0.1, PromptTokens: 2, CompletionTokens: 3}},
	}}
	r := NewReconciler(fetcher, tr, WithSleep((&fakeClock{}).sleep))

	r.Reconcile(context.Background(), Request{PlaceholderID: ph.ID, CorrelationID: "gen-r", Text: "answer, in full"})

	got, ok := tr.Find("gen-r")
	require.True(t, ok)
	assert.Equal(t, "answer, in full", got.Text)
}

func TestReconcile_Cancelled(t *testing.T) {
	tr, ph := pendingTranscript(t)
	ctx, cancel := context.WithCancel(context.Background())
	fetcher := &scriptedFetcher{results: []fetchResult{{err: notFound()}}}
	r := NewReconciler(fetcher, tr, WithSleep(func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}))

	out := r.Reconcile(ctx, Request{PlaceholderID: ph.ID, CorrelationID: "gen-c"})

	assert.Equal(t, StatusCancelled, out.Status)
	got, ok := tr.Find("gen-c")
	require.True(t, ok)
	assert.False(t, got.Pending, "a cancelled reconciliation still closes the entry")
	assert.Equal(t, noteCancelled, got.ReasoningNote)
}

func TestReconcile_CustomPolicy(t *testing.T) {
	tr, ph := pendingTranscript(t)
	fetcher := &scriptedFetcher{results: []fetchResult{{err: notFound()}}}
	r := NewReconciler(fetcher, tr,
		WithSleep((&fakeClock{}).sleep),
		WithPolicy(retry.Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, Multiplier: 2}))

	out := r.Reconcile(context.Background(), Request{PlaceholderID: ph.ID, CorrelationID: "gen-p"})
	assert.Equal(t, 2, fetcher.calls)
	assert.Equal(t, "stats unavailable after 2 attempts", out.Note)
}

// End to end against the real client: the endpoint returns 404 twice and
// then numeric strings.
func TestReconcile_AgainstHTTPServer(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = io.WriteString(w, `{"data":{"total_cost":"0.0015","tokens_prompt":"100","tokens_completion":50}}`)
	}))
	defer server.Close()

	client := cloud.NewClient("sk-or-test-abcdefghijklmnopqrstuvwxyz0123456789").WithBaseURL(server.URL)
	tr, ph := pendingTranscript(t)
	r := NewReconciler(client, tr, WithSleep((&fakeClock{}).sleep))

	out := r.Reconcile(context.Background(), Request{PlaceholderID: ph.ID, CorrelationID: "gen-http"})

	require.Equal(t, StatusReconciled, out.Status)
	assert.EqualValues(t, 3, hits.Load())
	got, _ := tr.Find("gen-http")
	assert.Equal(t, 150, got.Tokens.TotalTokens)
}
