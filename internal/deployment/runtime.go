// Package deployment wires controller, monitor and query client together for
// one active deployment and owns their lifecycle.
package deployment

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"

	"github.com/braincanary/braincanary/internal/clock"
	"github.com/braincanary/braincanary/internal/controller"
	"github.com/braincanary/braincanary/internal/evalquery"
	"github.com/braincanary/braincanary/internal/events"
	"github.com/braincanary/braincanary/internal/models"
	"github.com/braincanary/braincanary/internal/monitor"
	"github.com/braincanary/braincanary/internal/router"
	"github.com/braincanary/braincanary/internal/store"
)

// ClientFactory builds a query client for a deployment's monitor config.
type ClientFactory func(models.QueryConfig) (evalquery.Client, error)

// Options tune runtime construction. Zero values give production behavior.
type Options struct {
	// ClientFactory overrides how query clients are built; tests inject
	// scripted backends here.
	ClientFactory ClientFactory

	// Clock overrides time reads.
	Clock clock.Clock

	// ManualPoll suppresses the monitor's periodic ticker; ticks then only
	// happen through TickMonitor.
	ManualPoll bool
}

// Runtime owns the controller plus, while a deployment is live, its monitor
// and query client.
type Runtime struct {
	store      store.Store
	bus        *events.Bus
	clock      clock.Clock
	ctrl       *controller.Controller
	newClient  ClientFactory
	manualPoll bool

	mu  sync.Mutex
	mon *monitor.Monitor

	stopWatch func()
}

// NewRuntime constructs the runtime. If the store holds a non-terminal
// deployment, its monitor is brought back up against the recovered snapshot.
func NewRuntime(ctx context.Context, st store.Store, bus *events.Bus, opts Options) (*Runtime, error) {
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}
	factory := opts.ClientFactory
	if factory == nil {
		factory = func(qc models.QueryConfig) (evalquery.Client, error) {
			return evalquery.New(evalquery.Config{
				APIURL:     qc.APIURL,
				Path:       qc.Path,
				APIKey:     qc.APIKey,
				Timeout:    qc.Timeout,
				MaxRetries: qc.MaxRetries,
			})
		}
	}

	ctrl, err := controller.New(ctx, st, bus, clk)
	if err != nil {
		return nil, err
	}

	r := &Runtime{
		store:      st,
		bus:        bus,
		clock:      clk,
		ctrl:       ctrl,
		newClient:  factory,
		manualPoll: opts.ManualPoll,
	}

	// The monitor is torn down when its deployment reaches a terminal state.
	r.stopWatch = bus.Subscribe(func(ev events.Event) {
		if ev.Type == events.TypeDeploymentComplete {
			go r.stopMonitor()
		}
	})

	if snap := ctrl.Snapshot(); snap != nil && !snap.State.Terminal() {
		if err := r.startMonitor(snap); err != nil {
			log.Printf("[deployment] monitor not restarted for %s: %v", snap.ID, err)
		}
	}
	return r, nil
}

// Controller exposes the stage controller for the control surface.
func (r *Runtime) Controller() *controller.Controller { return r.ctrl }

// StartDeployment validates the config, starts the rollout and brings up its
// monitor.
func (r *Runtime) StartDeployment(ctx context.Context, cfg models.DeploymentConfig) (models.DeploymentSnapshot, error) {
	snap, err := r.ctrl.Start(ctx, cfg)
	if err != nil {
		return models.DeploymentSnapshot{}, err
	}
	if err := r.startMonitor(&snap); err != nil {
		return snap, fmt.Errorf("deployment started but monitor failed: %w", err)
	}
	return snap, nil
}

func (r *Runtime) startMonitor(snap *models.DeploymentSnapshot) error {
	client, err := r.newClient(snap.Config.Monitor.Query)
	if err != nil {
		return fmt.Errorf("build query client: %w", err)
	}
	mon, err := monitor.New(monitor.Config{
		DeploymentID:   snap.ID,
		Project:        snap.Config.Project,
		PollInterval:   snap.Config.Monitor.PollInterval,
		StageStart:     snap.StageEnteredAt,
		Scorers:        snap.Config.Scorers(),
		ScorerLagGrace: snap.Config.Monitor.ScorerLagGrace,
		Client:         client,
	})
	if err != nil {
		return err
	}
	mon.OnScoreUpdate(func(u models.ScoreUpdate) {
		if err := r.ctrl.HandleScoreUpdate(context.Background(), u); err != nil {
			log.Printf("[deployment] score update not applied: %v", err)
		}
	})
	mon.OnHealth(func(h models.MonitorHealth) {
		r.ctrl.HandleMonitorHealth(context.Background(), h)
	})
	r.ctrl.AttachMonitor(mon)

	r.mu.Lock()
	old := r.mon
	r.mon = mon
	r.mu.Unlock()
	if old != nil {
		old.Stop()
	}
	if !r.manualPoll {
		mon.Start()
	}
	return nil
}

func (r *Runtime) stopMonitor() {
	r.mu.Lock()
	mon := r.mon
	r.mon = nil
	r.mu.Unlock()
	if mon != nil {
		mon.Stop()
	}
}

// TickMonitor runs one monitor poll synchronously; used with ManualPoll.
func (r *Runtime) TickMonitor(ctx context.Context) error {
	r.mu.Lock()
	mon := r.mon
	r.mu.Unlock()
	if mon == nil {
		return fmt.Errorf("no monitor running")
	}
	return mon.Tick(ctx)
}

// Route answers the request-path decision for an optional sticky value.
func (r *Runtime) Route(stickyValue string) router.Decision {
	return router.Route(r.ctrl.Snapshot(), stickyValue, rand.Float64())
}

// Shutdown halts timers and joins in-flight work. It transitions nothing:
// the persisted snapshot stays recoverable.
func (r *Runtime) Shutdown() {
	if r.stopWatch != nil {
		r.stopWatch()
	}
	r.stopMonitor()
}
