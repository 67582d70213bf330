package main

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/stemrun/stemcore/internal/cognition"
	"github.com/stemrun/stemcore/internal/mlog"
	"github.com/stemrun/stemcore/internal/stem"
	"github.com/stemrun/stemcore/internal/wire"
)

// wireIngress adapts the NDJSON wire listener (internal/wire) to
// stem.Ingress: sense envelopes accepted over any connection land on
// a single bounded channel the stem loop drains each cycle (spec
// §4.6 step 1, §5 "back-pressure: ingress uses a bounded queue;
// overflow drops oldest sense items with a logged warning").
type wireIngress struct {
	socketPath string
	logger     mlog.Logger

	mu      sync.Mutex
	queue   []stem.Sense
	cap     int
	arrived chan struct{}
}

func newWireIngress(socketPath string, logger mlog.Logger) *wireIngress {
	if logger == nil {
		logger = &mlog.NoneLogger{}
	}

	return &wireIngress{socketPath: socketPath, logger: logger, cap: 1024, arrived: make(chan struct{}, 1)}
}

// Recv implements stem.Ingress: it blocks until at least one sense is
// queued, then drains everything currently queued without blocking
// further.
func (w *wireIngress) Recv(ctx context.Context) ([]stem.Sense, error) {
	for {
		w.mu.Lock()

		if len(w.queue) > 0 {
			batch := w.queue
			w.queue = nil
			w.mu.Unlock()

			return batch, nil
		}

		w.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-w.arrived:
		}
	}
}

func (w *wireIngress) enqueue(s stem.Sense) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if len(w.queue) >= w.cap {
		w.logger.Warnf("ingress: bounded queue full, dropping oldest sense %q", w.queue[0].SenseID)
		w.queue = w.queue[1:]
	}

	w.queue = append(w.queue, s)

	select {
	case w.arrived <- struct{}{}:
	default:
	}
}

// handleConn drives one accepted wire connection: auth then a stream
// of sense/act_ack envelopes (spec §6.1).
func (w *wireIngress) handleConn(ctx context.Context, conn *wire.Conn) {
	defer conn.Close()

	for {
		env, ok, err := conn.ReadEnvelope()
		if err != nil {
			w.logger.Warnf("ingress: connection read error: %v", err)
			return
		}

		if !ok {
			return
		}

		switch env.Method {
		case wire.MethodSense:
			var body wire.SenseBody
			if err := json.Unmarshal(env.Body, &body); err != nil {
				w.logger.Warnf("ingress: malformed sense body: %v", err)
				continue
			}

			var payload any
			if len(body.Payload) > 0 {
				if err := json.Unmarshal(body.Payload, &payload); err != nil {
					w.logger.Warnf("ingress: malformed sense payload: %v", err)
					continue
				}
			}

			w.enqueue(stem.Sense{SenseItem: cognition.SenseItem{
				SenseID:                  body.SenseID,
				NeuralSignalDescriptorID: body.NeuralSignalDescriptorID,
				Payload:                  payload,
			}})
		case wire.MethodAuth, wire.MethodActAck:
			// auth and act_ack envelopes are read and ignored here;
			// this listener only ever feeds the stem loop's sense
			// intake.
		}

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}
