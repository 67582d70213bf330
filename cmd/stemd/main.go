// Command stemd runs the Stem scheduler: it loads configuration,
// wires the ledger, registry, gateway, cognition reactor, continuity
// guard, spine dispatcher, and stem loop together, then serves the
// NDJSON wire listener, admin HTTP surface, and gRPC health service
// until shutdown (spec §4.6, §6, §10).
package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/stemrun/stemcore/internal/adminhttp"
	"github.com/stemrun/stemcore/internal/cognition"
	"github.com/stemrun/stemcore/internal/config"
	"github.com/stemrun/stemcore/internal/continuity"
	"github.com/stemrun/stemcore/internal/gateway"
	"github.com/stemrun/stemcore/internal/health"
	"github.com/stemrun/stemcore/internal/launcher"
	"github.com/stemrun/stemcore/internal/ledger"
	"github.com/stemrun/stemcore/internal/logging"
	"github.com/stemrun/stemcore/internal/mlog"
	"github.com/stemrun/stemcore/internal/registry"
	"github.com/stemrun/stemcore/internal/spine"
	"github.com/stemrun/stemcore/internal/stem"
	"github.com/stemrun/stemcore/internal/wire"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	if err := logging.PruneOldLogs(cfg.LogDir, cfg.LogRetentionDays); err != nil {
		panic(err)
	}

	level, err := mlog.ParseLevel(cfg.LogLevel)
	if err != nil {
		panic(err)
	}

	zapLogger, err := mlog.NewZapLogger(level)
	if err != nil {
		panic(err)
	}

	logger := zapLogger.WithFields("run_id", uuid.Must(uuid.NewV7()).String())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	defer zapLogger.Sync()

	l := ledger.New(cfg.InitialSurvivalBudget)
	reg := registry.New()
	versions := ledger.PolicyVersions{Affordance: "v1", CostPolicy: "v1", Ruleset: "v1"}

	backends := map[string]gateway.Backend{}
	if cfg.InferenceBackendURL != "" {
		backends[cfg.InferenceBackendName] = gateway.NewHTTPBackend(cfg.InferenceBackendName, cfg.InferenceBackendURL, nil)
	}

	inferenceRouter := gateway.AliasRouter{Backends: backends, Aliases: map[string]string{"default": cfg.InferenceBackendName}}
	gw := gateway.New(inferenceRouter, logger.WithFields("component", "gateway"), cfg.GatewayRetries)
	reactor := cognition.New(gw, logger.WithFields("component", "cognition"), cfg.MaxAttempts, cfg.MaxCycleTime)

	// Concrete endpoints are registered into both reg (for catalog
	// advertisement and consistency checks) and spineRouter (for
	// dispatch) by the deployment's bootstrap code; none are wired here.
	spineRouter := spine.MapRouter{}
	dispatcher := spine.New(spineRouter)

	guard := continuity.AlwaysAllowGuard{}

	ingress := newWireIngress(cfg.WireSocketPath, logger.WithFields("component", "ingress"))

	loop := stem.New(l, reg, nil, reactor, dispatcher, guard, ingress, nil, logger.WithFields("component", "stem"), versions, cfg.ReservationTTLCycles)

	counters := &adminhttp.Counters{}
	adminSrv := adminhttp.New(l, counters, logger.WithFields("component", "adminhttp"))
	healthSrv := health.New(l)

	lnch := launcher.NewLauncher(launcher.WithLogger(logger))
	lnch.Add("stem-loop", appFunc(loop.Run))
	lnch.Add("admin-http", appFunc(func(ctx context.Context) error {
		go func() {
			<-ctx.Done()
			adminSrv.Shutdown()
		}()

		return adminSrv.Listen(cfg.AdminHTTPAddr)
	}))
	lnch.Add("health-grpc", appFunc(func(ctx context.Context) error {
		lis, err := net.Listen("tcp", cfg.HealthGRPCAddr)
		if err != nil {
			return err
		}

		go func() {
			<-ctx.Done()
			healthSrv.Stop(context.Background())
		}()

		return healthSrv.Serve(lis)
	}))
	lnch.Add("wire-listener", appFunc(func(ctx context.Context) error {
		return wire.ListenUnix(ctx, cfg.WireSocketPath, ingress.handleConn)
	}))

	lnch.Run(ctx)
}

// appFunc adapts a plain func(context.Context) error to
// launcher.App.
type appFunc func(ctx context.Context) error

func (f appFunc) Run(ctx context.Context) error { return f(ctx) }
