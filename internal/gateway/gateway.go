// Package gateway implements the Inference Gateway contract the
// Cognition Reactor is written against: a pluggable streaming request
// pipeline with retry-before-first-output, per-backend concurrency
// permits, rate smoothing, and a circuit breaker (spec §4.4, §5;
// supplemented per original_source core/src/ai_gateway).
package gateway

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/stemrun/stemcore/internal/errs"
	"github.com/stemrun/stemcore/internal/mlog"
)

// OutputMode selects the response shape a request asks for (spec
// §4.4).
type OutputMode string

const (
	OutputText       OutputMode = "Text"
	OutputJSONObject OutputMode = "JsonObject"
	OutputJSONSchema OutputMode = "JsonSchema"
)

// Message is one canonicalized chat message in a request.
type Message struct {
	Role    string
	Content string
}

// Request is a canonicalized inference request (spec §4.4).
type Request struct {
	Messages      []Message
	Tools         []string
	OutputMode    OutputMode
	MaxOutputTokens int
	MaxRequestTime  time.Duration
	RouteHint       string
}

// EventKind enumerates the gateway's ordered stream events (spec
// §4.4).
type EventKind string

const (
	EventStarted       EventKind = "Started"
	EventTextDelta     EventKind = "TextDelta"
	EventToolCallDelta EventKind = "ToolCallDelta"
	EventToolCallReady EventKind = "ToolCallReady"
	EventUsage         EventKind = "Usage"
	EventCompleted     EventKind = "Completed"
	EventFailed        EventKind = "Failed"
)

// Event is one item in the ordered gateway stream.
type Event struct {
	Kind       EventKind
	Text       string
	ToolCallID string
	ToolCallArgsFragment string
	UsageInputTokens  int64
	UsageOutputTokens int64
	Err        error
}

// Backend is a pluggable inference provider. Implementations stream
// Events onto the returned channel and must honor ctx cancellation by
// invoking their own cancel hook (spec §4.4 "Cancellation").
type Backend interface {
	Name() string
	Stream(ctx context.Context, req Request) (<-chan Event, error)
}

// RouteResolver picks a backend for a request's route hint (spec
// §4.4 "Route selection").
type RouteResolver interface {
	Resolve(routeHint string) (Backend, error)
}

// AliasRouter resolves explicit "backend/model" hints first (by their
// backend part; a hint without "/" is taken as a backend name), then a
// configured alias table, then falls back to a required "default"
// alias.
type AliasRouter struct {
	Backends map[string]Backend
	Aliases  map[string]string
}

func (r AliasRouter) Resolve(routeHint string) (Backend, error) {
	if routeHint != "" {
		backendName, _, _ := strings.Cut(routeHint, "/")
		if b, ok := r.Backends[backendName]; ok {
			return b, nil
		}
	}

	if alias, ok := r.Aliases[routeHint]; ok {
		if b, ok := r.Backends[alias]; ok {
			return b, nil
		}
	}

	if alias, ok := r.Aliases["default"]; ok {
		if b, ok := r.Backends[alias]; ok {
			return b, nil
		}
	}

	return nil, errs.UnsupportedCapabilityError{Code: "no_route", Message: "no backend resolved for route hint: " + routeHint}
}

// Gateway drives one request through a backend with retry, permits,
// rate limiting, and breaker protection (spec §4.4).
type Gateway struct {
	router  RouteResolver
	guards  map[string]*backendGuard
	logger  mlog.Logger
	retries int
}

// New constructs a Gateway. Each backend gets a guard with fixed
// defaults the first time it is seen (8 concurrency permits, an
// in-memory token bucket of 8 refilling 8 per second, and a breaker
// that opens for 30s after 5 consecutive failures); retries bounds the
// retry-before-first-output attempts.
func New(router RouteResolver, logger mlog.Logger, retries int) *Gateway {
	if logger == nil {
		logger = &mlog.NoneLogger{}
	}

	return &Gateway{router: router, guards: make(map[string]*backendGuard), logger: logger, retries: retries}
}

func (g *Gateway) guardFor(backend Backend) *backendGuard {
	name := backend.Name()
	if guard, ok := g.guards[name]; ok {
		return guard
	}

	guard := newBackendGuard(8, 8, 5, 30*time.Second)
	g.guards[name] = guard

	return guard
}

// Stream resolves req's backend, applies the permit/rate/breaker
// guard, and drives the retry-before-first-output policy (spec §4.4).
func (g *Gateway) Stream(ctx context.Context, req Request) (<-chan Event, error) {
	backend, err := g.router.Resolve(req.RouteHint)
	if err != nil {
		return nil, err
	}

	guard := g.guardFor(backend)

	if !guard.breaker.allow() {
		return nil, errs.BackendTransientError{Code: "circuit_open", Message: "backend circuit breaker open for " + backend.Name(), Retryable: false}
	}

	if err := guard.permits.Acquire(ctx); err != nil {
		return nil, errs.BackendTransientError{Code: "permit_unavailable", Message: "no concurrency permit available", Retryable: true}
	}

	if !guard.bucket.Take() {
		guard.permits.Release()
		return nil, errs.BackendTransientError{Code: "rate_limited", Message: "token bucket exhausted", Retryable: true}
	}

	out := make(chan Event, 16)

	go g.drive(ctx, backend, guard, req, out)

	return out, nil
}

func (g *Gateway) drive(ctx context.Context, backend Backend, guard *backendGuard, req Request, out chan<- Event) {
	defer close(out)
	defer guard.permits.Release()

	firstOutputSeen := false
	attempt := 0

	for {
		attempt++

		stream, err := backend.Stream(ctx, req)
		if err != nil {
			if !firstOutputSeen && attempt <= g.retries && isRetryable(err) {
				g.logger.Warnf("gateway: retrying %s after transient error (attempt %d): %v", backend.Name(), attempt, err)
				continue
			}

			guard.breaker.recordFailure()
			out <- Event{Kind: EventFailed, Err: err}

			return
		}

		sawUsage := false
		retryThisAttempt := false

		for ev := range stream {
			switch ev.Kind {
			case EventTextDelta, EventToolCallDelta, EventToolCallReady:
				firstOutputSeen = true
			case EventUsage:
				if sawUsage {
					guard.breaker.recordFailure()
					out <- Event{Kind: EventFailed, Err: errs.ProtocolViolationError{Code: "duplicate_usage", Message: "backend emitted Usage twice"}}

					return
				}

				sawUsage = true
			case EventFailed:
				if !firstOutputSeen && attempt <= g.retries && isRetryable(ev.Err) {
					retryThisAttempt = true
					continue
				}

				guard.breaker.recordFailure()
				out <- ev

				return
			case EventCompleted:
				guard.breaker.recordSuccess()
				out <- ev

				return
			}

			out <- ev
		}

		if retryThisAttempt {
			g.logger.Warnf("gateway: retrying %s before first output (attempt %d)", backend.Name(), attempt)
			continue
		}

		return
	}
}

func isRetryable(err error) bool {
	var transient errs.BackendTransientError
	if errors.As(err, &transient) {
		return transient.Retryable
	}

	return false
}
