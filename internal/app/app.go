package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"notifyd/internal/actions"
	"notifyd/internal/config"
	"notifyd/internal/eventbus"
	"notifyd/internal/notify"
	"notifyd/internal/runtime/supervisor"
	"notifyd/internal/storage"
	kit "notifyd/internal/transport"
	"notifyd/internal/transport/console"
	"notifyd/internal/transport/telegram"
	"notifyd/internal/uiloop"
	logx "notifyd/pkg/logx"
)

// Options override the process streams used by the console tier.
type Options struct {
	Stdin  io.Reader
	Stdout io.Writer
}

// presentation is what every tier provides.
type presentation interface {
	notify.Adapter
	kit.Outbox
}

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store
	ui    *uiloop.Loop
	now   func() time.Time

	state     *appState
	calls     *callControl
	presenter *notify.Presenter
	router    *actions.Router
	pruner    *pruner

	tier    presentation
	console *console.Tier
	tgTier  *telegram.Tier
	client  *telegram.Client
	stdin   io.Reader
	updates chan kit.Update
}

func NewApp(cfgPath string, opts Options) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logConfig(cfg))
	log = log.With(logx.String("comp", "app"))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	bus := eventbus.New()

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver))

	a := &App{
		cfgm:  cfgm,
		log:   log,
		logs:  logSvc,
		bus:   bus,
		store: store,
		ui:    uiloop.New(log),
		now:   time.Now,
		state: &appState{},
		calls: newCallControl(bus, log),
		stdin: opts.Stdin,
	}
	if a.stdin == nil {
		a.stdin = os.Stdin
	}
	out := opts.Stdout
	if out == nil {
		out = os.Stdout
	}

	clock := kit.NewSyncClock(nil)
	if err := a.buildTier(cfg, clock, out); err != nil {
		_ = store.Close()
		return nil, err
	}

	window, err := config.ParseDurationField("notifications.throttle_window", cfg.Notifications.ThrottleWindow)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	a.presenter = notify.NewPresenter(a.tier, config.NewPreferences(cfgm), a.state, a.ui, notify.PresenterOptions{
		SoundWindow:   window,
		SoundMaxCount: cfg.Notifications.ThrottleMax,
		Bus:           bus,
		Log:           log,
	})
	a.router = actions.New(actions.Deps{
		Threads:   store,
		Sender:    &sender{out: a.tier, store: store, now: a.now, log: log.With(logx.String("comp", "sender"))},
		Calls:     a.calls,
		Navigator: &navigator{bus: bus, log: log.With(logx.String("comp", "navigator"))},
		Failures:  a.presenter,
		App:       a.state,
		UI:        a.ui,
		Bus:       bus,
		Log:       log,
	})

	// Error log lines become threadless error notifications.
	logSvc.SetErrorSink(logx.ErrorSinkFunc(func(text string) {
		a.presenter.NotifyUserForThreadlessError(text, nil)
	}))

	spec, retention, err := mapPruneConfig(cfg)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	if spec != "" {
		p, err := newPruner(store, spec, retention, log.With(logx.String("comp", "prune")))
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("storage.prune_schedule: %w", err)
		}
		a.pruner = p
	}
	return a, nil
}

func (a *App) buildTier(cfg *config.Config, clock *kit.SyncClock, out io.Writer) error {
	switch strings.ToLower(strings.TrimSpace(cfg.Adapter.Driver)) {
	case "telegram":
		tc := cfg.Adapter.Telegram
		poll, err := config.ParseDurationOrDefault("adapter.telegram.poll_timeout", tc.PollTimeout, 10*time.Second)
		if err != nil {
			return err
		}
		client, err := telegram.New(telegram.Config{
			Token:       tc.Token,
			PollTimeout: poll,
			RatePerSec:  tc.RatePerSec,
		}, a.log.With(logx.String("comp", "telegram")))
		if err != nil {
			return err
		}
		a.client = client
		a.tgTier = telegram.NewTier(client, tc.OwnerChatID, clock, a.log)
		a.tgTier.SetExecutor(a.ui)
		a.tier = a.tgTier
		a.updates = make(chan kit.Update, 256)
	default:
		a.console = console.New(out, clock, a.log)
		a.tier = a.console
	}
	return nil
}

func logConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		ErrorSink: logx.ErrorSinkConfig{
			Enabled:    cfg.Logging.ErrorSink.Enabled,
			MinLevel:   cfg.Logging.ErrorSink.MinLevel,
			RatePerSec: cfg.Logging.ErrorSink.RatePerSec,
		},
	}
}

// Presenter exposes the decision engine for in-process producers.
func (a *App) Presenter() *notify.Presenter { return a.presenter }

// Router exposes the action router.
func (a *App) Router() *actions.Router { return a.router }

func (a *App) Store() storage.Store { return a.store }

func (a *App) Bus() eventbus.Bus { return a.bus }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.sup.Go("ui.loop", a.ui.Serve)

	regCtx, cancel := context.WithTimeout(a.sup.Context(), 10*time.Second)
	err := a.ui.Do(regCtx, func() {
		if err := a.tier.RegisterNotificationSettings(regCtx); err != nil {
			a.log.Warn("register notification settings failed", logx.Err(err))
		}
	})
	cancel()
	if err != nil {
		return fmt.Errorf("register notification settings: %w", err)
	}

	switch {
	case a.client != nil:
		if err := a.client.Start(a.sup.Context(), a.updates); err != nil {
			return err
		}
		a.sup.Go("telegram.dispatch", func(c context.Context) error {
			return a.tgTier.Serve(c, a.updates, a.router, a)
		})
	case a.console != nil:
		a.sup.Go("console.commands", func(c context.Context) error {
			return a.console.Serve(c, a.stdin, a.router, a)
		})
	}

	if a.pruner != nil {
		a.pruner.Start()
	}

	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) { a.logEvents(c, events, unsub) })

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) { a.followConfig(c, sub) })
	a.sup.Go("config.watch", a.cfgm.Watch)

	sdNotify(a.log, daemon.SdNotifyReady)
	a.log.Info("app started", logx.String("adapter", a.adapterName()))
	return nil
}

func (a *App) adapterName() string {
	if a.client != nil {
		return "telegram"
	}
	return "console"
}

// logEvents writes every bus event to the debug log.
func (a *App) logEvents(ctx context.Context, events <-chan eventbus.Event, unsub func()) {
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.Any("data", e.Data))
		}
	}
}

// followConfig applies committed reloads. Only the newest of a burst is
// applied, against the last one that was.
func (a *App) followConfig(ctx context.Context, sub chan *config.Config) {
	defer a.cfgm.Unsubscribe(sub)
	applied := a.cfgm.Get()
	for {
		var next *config.Config
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			next = cfg
		}
		for more := true; more; {
			select {
			case cfg, ok := <-sub:
				if !ok {
					return
				}
				next = cfg
			default:
				more = false
			}
		}
		a.applyConfig(applied, next)
		applied = next
	}
}

// applyConfig handles a committed reload. Notification preferences are read
// live, so only logging needs pushing; adapter and storage need a restart.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, attrs := config.SummarizeConfigChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	for _, s := range config.RestartRequired(sections) {
		a.log.Warn(s + " config changed; restart required for changes to take effect")
	}
	a.logs.Apply(logConfig(newCfg))

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// stopStep is one phase of shutdown with its own time limit.
type stopStep struct {
	name  string
	limit time.Duration
	run   func(context.Context) error
}

// Stop shuts down in order: pruning, the adapter, every supervised goroutine
// and finally storage. A step that overruns its limit is logged and skipped.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdNotify(a.log, daemon.SdNotifyStopping)
	a.sup.Cancel()

	steps := []stopStep{
		{"prune", 2 * time.Second, func(c context.Context) error {
			if a.pruner == nil {
				return nil
			}
			return a.pruner.Stop(c)
		}},
		{"adapter", 2 * time.Second, func(c context.Context) error {
			if a.client == nil {
				return nil
			}
			return a.client.Stop(c)
		}},
		{"supervisor", 2 * time.Second, a.sup.Wait},
		{"storage", time.Second, func(context.Context) error { return a.store.Close() }},
	}
	for _, st := range steps {
		a.runStopStep(ctx, st)
	}

	a.log.Info("stopped")
	return a.logs.Close()
}

func (a *App) runStopStep(ctx context.Context, st stopStep) {
	c, cancel := context.WithTimeout(ctx, st.limit)
	defer cancel()
	began := time.Now()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- st.run(c)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step failed", logx.String("step", st.name), logx.Err(err))
		}
		a.log.Debug("stop step done", logx.String("step", st.name), logx.Duration("took", time.Since(began)))
	case <-c.Done():
		a.log.Warn("stop step timed out", logx.String("step", st.name), logx.Duration("limit", st.limit), logx.Err(c.Err()))
	}
}
