// Package adminhttp exposes a small operator-facing HTTP surface
// around the stem scheduler: /healthz, /metrics, and a read-only
// /ledger/snapshot dump. It never mutates ledger state (spec §10
// domain stack).
package adminhttp

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"

	"github.com/stemrun/stemcore/internal/ledger"
	"github.com/stemrun/stemcore/internal/mlog"
)

// Counters tracks lightweight operational counters the /metrics
// endpoint surfaces alongside the ledger balance.
type Counters struct {
	SpineEventsApplied  int64
	SpineEventsRejected int64
	SpineEventsDeferred int64
}

// Server wraps a fiber app serving the admin surface.
type Server struct {
	app      *fiber.App
	ledger   *ledger.Ledger
	counters *Counters
	runID    string
}

// New builds a Server bound to l. counters may be updated by the
// caller (e.g. the stem loop) between requests; reads here take no
// lock beyond what *ledger.Ledger already provides.
func New(l *ledger.Ledger, counters *Counters, logger mlog.Logger) *Server {
	if logger == nil {
		logger = &mlog.NoneLogger{}
	}

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	app.Use(cors.New())
	app.Use(requestid.New())

	s := &Server{app: app, ledger: l, counters: counters, runID: uuid.Must(uuid.NewV7()).String()}

	app.Get("/healthz", s.handleHealthz)
	app.Get("/metrics", s.handleMetrics)
	app.Get("/ledger/snapshot", s.handleLedgerSnapshot)

	return s
}

// Listen starts serving on addr. Blocks until the app is shut down.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) handleHealthz(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok", "run_id": s.runID})
}

func (s *Server) handleMetrics(c *fiber.Ctx) error {
	openCount := 0

	for _, e := range s.ledger.Entries() {
		if e.Kind == ledger.KindReserve {
			openCount++
		}
	}

	return c.JSON(fiber.Map{
		"balance":               s.ledger.Balance(),
		"initial_budget":        s.ledger.InitialBudget(),
		"reserve_entries_total": openCount,
		"spine_applied_total":   s.counters.SpineEventsApplied,
		"spine_rejected_total":  s.counters.SpineEventsRejected,
		"spine_deferred_total":  s.counters.SpineEventsDeferred,
	})
}

func (s *Server) handleLedgerSnapshot(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"run_id":  s.runID,
		"balance": s.ledger.Balance(),
		"entries": s.ledger.Entries(),
	})
}
