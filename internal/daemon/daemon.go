package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/droned/droned/internal/blaster"
	"github.com/droned/droned/internal/dispatch"
	"github.com/droned/droned/internal/eventbus"
	"github.com/droned/droned/internal/journal"
	"github.com/droned/droned/internal/security"
	"github.com/droned/droned/internal/supervisor"
)

// gracefulDrain is how long Serve waits for in-flight commands to finish
// after SIGTERM before forcing the HTTP server closed, per spec §4.11.
const gracefulDrain = 5 * time.Second

// Daemon is the DroneD runtime: it wires the keyring, prime pool, blaster
// server/client, action dispatcher, application supervisor, event bus, and
// journal together and owns their startup/shutdown ordering, the same role
// the teacher's Daemon plays for its own (much larger) service set.
type Daemon struct {
	Config Config

	Bus       *eventbus.Bus
	Keyring   *security.Keyring
	Primes    *security.PrimePool
	Actions   *dispatch.Registry
	Dispatch  *dispatch.Dispatcher
	Apps      *supervisor.AppManager
	Journal   *journal.Journal
	Blaster   *blaster.Server
	Client    *blaster.Client

	log    zerolog.Logger
	cancel context.CancelFunc
}

// New loads configuration and builds a fully wired Daemon.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig builds a Daemon from an already-loaded Config, following
// spec §4.11's startup order: config is already loaded by the caller here;
// everything below happens in dependency order (keyring and prime pool
// before the blaster server that needs them; the action registry before
// the dispatcher; the dispatcher before the supervisor actions that call
// into it; the journal before the blaster client and server, which
// serves its snapshots on /gremlin).
func NewWithConfig(cfg Config) (*Daemon, error) {
	log := newLogger(cfg.Logging)

	bus := eventbus.NewBus(log)

	if err := os.MkdirAll(cfg.Security.KeyDir, 0700); err != nil {
		return nil, fmt.Errorf("create key dir: %w", err)
	}
	keyring, err := security.NewKeyring(cfg.Security.KeyDir, log)
	if err != nil {
		return nil, fmt.Errorf("load keyring: %w", err)
	}

	primes, err := loadOrGeneratePrimes(cfg.Blaster.PrimeFile)
	if err != nil {
		return nil, fmt.Errorf("load prime file: %w", err)
	}
	pool := security.NewPrimePool(primes, security.DefaultPrimeTTL, log)

	actions := dispatch.NewRegistry()
	disp := dispatch.NewDispatcher(actions, log)

	apps := supervisor.NewAppManager(bus, log)

	jrn, err := journal.Open(cfg.Journal.Dir, bus, log)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	client := blaster.NewClient(keyring, cfg.Security.SignerID, log)

	d := &Daemon{
		Config:   cfg,
		Bus:      bus,
		Keyring:  keyring,
		Primes:   pool,
		Actions:  actions,
		Dispatch: disp,
		Apps:     apps,
		Journal:  jrn,
		Client:   client,
		log:      log,
	}

	d.Blaster = blaster.NewServer(keyring, pool, disp, jrn, log)

	dispatch.RegisterBuiltins(actions, disp, "droned/1.0", d.reload, d.listEntities)

	return d, nil
}

// listEntities groups every live entity by class, for the "list" built-in.
// Grounded on the original's list_action (models/server.py:249), which
// iterates every live Entity printing "class\tstr(obj)"; here the classes
// are the managed application instances and the configured blaster peers.
func (d *Daemon) listEntities() map[string][]string {
	out := make(map[string][]string)

	apps := d.Apps.All()
	if len(apps) > 0 {
		names := make([]string, 0, len(apps))
		for _, inst := range apps {
			names = append(names, fmt.Sprintf("%s [%s]", inst.Key(), inst.State()))
		}
		out["AppInstance"] = names
	}

	if len(d.Config.Blaster.Peers) > 0 {
		out["Server"] = append([]string(nil), d.Config.Blaster.Peers...)
	}

	return out
}

// reload is the handler behind the "reload" built-in action: it reloads
// the keyring from disk (atomically, inside Keyring.Reload) and then
// re-reads configuration. The two steps are not one transaction: if the
// config read fails, the reloaded keyring stays in place.
func (d *Daemon) reload() error {
	if err := d.Keyring.Reload(); err != nil {
		return fmt.Errorf("reload keyring: %w", err)
	}
	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}
	d.Config = cfg
	return nil
}

// Serve starts every background service and blocks until the context is
// cancelled or a shutdown signal arrives. SIGTERM drains in-flight
// commands for up to gracefulDrain before forcing the listener closed;
// every other signal is republished on the event bus as a "signal" event
// rather than acted on directly, per spec §4.11.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.registerApps(); err != nil {
		return fmt.Errorf("load app configs: %w", err)
	}

	d.registerJournalSources()

	if err := d.Journal.LoadLatest(); err != nil {
		d.log.Warn().Err(err).Msg("failed to restore latest journal snapshot")
	}

	if err := d.Apps.StartSweeps(); err != nil {
		return fmt.Errorf("start supervisor sweeps: %w", err)
	}
	if err := d.Journal.Start(); err != nil {
		return fmt.Errorf("start journal: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", d.Config.Blaster.Host, d.Config.Blaster.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Blaster.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  2 * time.Minute,
	}

	var metricsServer *http.Server
	if d.Config.Telemetry.Prometheus {
		metricsAddr := fmt.Sprintf("%s:%d", d.Config.Telemetry.Host, d.Config.Telemetry.Port)
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				d.log.Error().Err(err).Msg("metrics server error")
			}
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh)

	go func() {
		for {
			select {
			case sig := <-sigCh:
				if sig == syscall.SIGTERM {
					d.log.Info().Str("signal", sig.String()).Msg("shutting down")
					d.shutdown(httpServer, metricsServer)
					cancel()
					return
				}
				d.Bus.Fire("signal", sig)
			case <-ctx.Done():
				return
			}
		}
	}()

	d.log.Info().Str("addr", addr).Msg("droned serving")

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// shutdown drains the blaster server, stops the sweeps/journal in the
// reverse order they were started, and shuts down the HTTP listeners.
func (d *Daemon) shutdown(httpServer, metricsServer *http.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulDrain)
	defer cancel()

	httpServer.Shutdown(shutdownCtx) //nolint:errcheck
	if metricsServer != nil {
		metricsServer.Shutdown(shutdownCtx) //nolint:errcheck
	}

	if err := d.Journal.Snapshot(); err != nil {
		d.log.Error().Err(err).Msg("final snapshot failed")
	}
	if err := d.Journal.Stop(); err != nil {
		d.log.Error().Err(err).Msg("journal stop failed")
	}
	d.Apps.StopSweeps()
}

// Close is a synchronous, signal-independent teardown path used by callers
// that already manage their own signal handling (tests, the CLI's
// foreground mode).
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	d.Apps.StopSweeps()
	d.Journal.Stop() //nolint:errcheck
}

// registerJournalSources wires the supervisor's instances into the
// journal as a serializable source, so a restart can re-apply each
// declared instance's enabled flag. Which instances exist still comes
// from the app config files, not from the journal.
func (d *Daemon) registerJournalSources() {
	d.Journal.Register(journal.Source{
		Name: "apps",
		Serialize: func() ([]byte, error) {
			return serializeAppKeys(d.Apps), nil
		},
		Restore: func(data []byte) error {
			return restoreAppKeys(d.Apps, data)
		},
	})
}
