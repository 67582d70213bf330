// Package audit implements a write-only Mongo-backed mirror of ledger
// entries and spine events for post-hoc inspection (spec §10 domain
// stack). It is never read back into the running process and carries
// none of the ledger's authority — the Non-goal against durable ledger
// persistence still holds.
package audit

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/stemrun/stemcore/internal/ledger"
	"github.com/stemrun/stemcore/internal/mlog"
	"github.com/stemrun/stemcore/internal/spine"
)

// Hub lazily connects to Mongo, matching the teacher's
// connect(ctx)/getX(ctx) connection-hub shape so the sink degrades to
// a no-op rather than blocking startup when Mongo is unavailable.
type Hub struct {
	URI      string
	Database string
	logger   mlog.Logger

	client *mongo.Client
}

func NewHub(uri, database string, logger mlog.Logger) *Hub {
	if logger == nil {
		logger = &mlog.NoneLogger{}
	}

	return &Hub{URI: uri, Database: database, logger: logger}
}

func (h *Hub) connect(ctx context.Context) (*mongo.Client, error) {
	if h.client != nil {
		return h.client, nil
	}

	cctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(cctx, options.Client().ApplyURI(h.URI))
	if err != nil {
		return nil, errors.Wrap(err, "audit: connect to mongo")
	}

	h.client = client

	return client, nil
}

func (h *Hub) entries(ctx context.Context) (*mongo.Collection, error) {
	client, err := h.connect(ctx)
	if err != nil {
		return nil, err
	}

	return client.Database(h.Database).Collection("ledger_entries"), nil
}

func (h *Hub) spineEvents(ctx context.Context) (*mongo.Collection, error) {
	client, err := h.connect(ctx)
	if err != nil {
		return nil, err
	}

	return client.Database(h.Database).Collection("spine_events"), nil
}

// Sink mirrors ledger entries and spine events into Mongo, logging and
// swallowing errors so an audit outage never perturbs the stem loop.
type Sink struct {
	hub *Hub
}

func NewSink(hub *Hub) *Sink { return &Sink{hub: hub} }

// MirrorEntry appends a ledger entry document.
func (s *Sink) MirrorEntry(ctx context.Context, runID string, e ledger.Entry) {
	coll, err := s.hub.entries(ctx)
	if err != nil {
		s.hub.logger.Warnf("audit: ledger entry mirror unavailable: %v", err)
		return
	}

	_, err = coll.InsertOne(ctx, bson.M{
		"run_id":              runID,
		"seq":                 e.Seq,
		"kind":                e.Kind,
		"cycle":               e.Cycle,
		"delta":               e.Delta,
		"cost_attribution_id": e.CostAttributionID,
		"action_id":           e.ActionID,
		"reference_id":        e.ReferenceID,
	})
	if err != nil {
		s.hub.logger.Warnf("audit: failed to mirror ledger entry seq=%d: %v", e.Seq, err)
	}
}

// MirrorSpineEvent appends a spine event document.
func (s *Sink) MirrorSpineEvent(ctx context.Context, runID string, cycle int64, ev spine.OrderedSpineEvent) {
	coll, err := s.hub.spineEvents(ctx)
	if err != nil {
		s.hub.logger.Warnf("audit: spine event mirror unavailable: %v", err)
		return
	}

	_, err = coll.InsertOne(ctx, bson.M{
		"run_id":            runID,
		"cycle":             cycle,
		"seq_no":            ev.SeqNo,
		"action_id":         ev.ActionID,
		"kind":              ev.Kind,
		"actual_cost_micro": ev.ActualCostMicro,
		"reference":         ev.Reference,
		"reason_code":       ev.ReasonCode,
	})
	if err != nil {
		s.hub.logger.Warnf("audit: failed to mirror spine event seq_no=%d: %v", ev.SeqNo, err)
	}
}
