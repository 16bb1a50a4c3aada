package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/quotio/quotio/internal/buildinfo"
	"github.com/quotio/quotio/internal/config"
	"github.com/quotio/quotio/internal/mgmt"
	"github.com/quotio/quotio/internal/netutil"
	"github.com/quotio/quotio/internal/notify"
	"github.com/quotio/quotio/internal/provider"
	"github.com/quotio/quotio/internal/proxy"
	"github.com/quotio/quotio/internal/quota"
	"github.com/quotio/quotio/internal/scanloop"
	"github.com/quotio/quotio/internal/settings"
	"github.com/quotio/quotio/internal/supervise"
	"github.com/quotio/quotio/internal/usagestats"
	"github.com/quotio/quotio/internal/warmup"
)

// quotioApp wires the daemon: proxy lifecycle, quota pipeline, warmup
// scheduler, usage-stats poller, and the settings/notification plumbing they
// share.
type quotioApp struct {
	envCfg   *config.EnvConfig
	store    *settings.Store
	notifier *notify.Notifier
	manager  *proxy.Manager
	client   *mgmt.Client

	quotas   *quota.Map
	registry *quota.Registry
	pipeline *quota.Pipeline

	statsRepo *usagestats.Repo
	statsSvc  *usagestats.Service

	warmupSettings *warmup.Settings
	warmupSvc      *warmup.Service
	warmupBoard    *warmup.Board
	warmupSched    *warmup.Scheduler

	refreshStopCh chan struct{}
	refreshWG     sync.WaitGroup
}

// parsePortFlag parses the shared --port flag for a subcommand.
func parsePortFlag(name string, args []string) (int, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	port := fs.Int("port", 0, "override the proxy port")
	if err := fs.Parse(args); err != nil {
		return 0, err
	}
	return *port, nil
}

// effectivePort resolves the port precedence: flag > saved setting > env.
func effectivePort(store *settings.Store, envCfg *config.EnvConfig, flagPort int) int {
	if flagPort > 0 {
		return flagPort
	}
	return store.GetInt(settings.KeyProxyPort, envCfg.ProxyPort)
}

// newApp builds the full daemon wiring. Nothing is started.
func newApp(flagPort int) (*quotioApp, error) {
	envCfg, err := config.LoadEnvConfig()
	if err != nil {
		return nil, err
	}
	store, err := settings.Open(filepath.Join(envCfg.DataDir, "settings.json"))
	if err != nil {
		return nil, err
	}
	port := effectivePort(store, envCfg, flagPort)

	app := &quotioApp{envCfg: envCfg, store: store}

	app.notifier = notify.New(notify.Config{
		Sender: notify.ExecSender{},
		EnabledFn: func() bool {
			return store.GetBool(settings.KeyNotificationsEnabled, true)
		},
		QuotaLowEnabledFn: func() bool {
			return store.GetBool(settings.KeyNotifyOnQuotaLow, true)
		},
		ThresholdFn: func() float64 {
			return store.GetFloat(settings.KeyQuotaAlertThreshold, envCfg.QuotaAlertThreshold)
		},
	})

	downloader := &netutil.FallbackDownloader{
		Direct: netutil.NewDirectDownloader(
			func() time.Duration { return envCfg.DownloadTimeout },
			func() string { return "quotio/" + buildinfo.Version },
		),
	}

	app.manager, err = proxy.NewManager(proxy.ManagerConfig{
		DataDir:             envCfg.DataDir,
		AuthDir:             envCfg.AuthDir,
		Port:                port,
		ReleaseRepo:         envCfg.ReleaseRepo,
		ReleaseAPIHost:      envCfg.ReleaseAPIHost,
		Downloader:          downloader,
		Notifier:            app.notifier,
		ProbeTimeout:        envCfg.ProbeTimeout,
		StartupPollInterval: envCfg.StartupPollInterval,
		StartupTimeout:      envCfg.StartupTimeout,
	})
	if err != nil {
		return nil, err
	}
	if flagPort > 0 {
		if err := app.manager.SetPort(flagPort); err != nil {
			return nil, err
		}
		if err := store.Set(settings.KeyProxyPort, flagPort); err != nil {
			return nil, err
		}
	}

	app.client = mgmt.NewClient(app.manager.ManagementURL, app.manager.Secret)

	app.quotas = quota.NewMap()
	app.registry = quota.NewRegistry()
	quota.RegisterAuthFileFetchers(app.registry, app.client)
	app.pipeline = quota.NewPipeline(quota.PipelineConfig{
		Quotas:   app.quotas,
		Registry: app.registry,
		OnUpdate: func(p provider.Provider) {
			log.Printf("[quota] %s snapshot updated", p)
		},
		Alert: app.notifier.CheckQuota,
	})

	app.statsRepo, err = usagestats.Open(filepath.Join(envCfg.DataDir, "usage.db"))
	if err != nil {
		return nil, err
	}
	app.statsSvc = usagestats.NewService(usagestats.ServiceConfig{
		Repo:   app.statsRepo,
		Client: app.client,
		MinIntervalFn: func() time.Duration {
			return envCfg.UsagePollMinInterval
		},
		JitterRange: envCfg.UsagePollJitter,
	})

	app.warmupSettings = warmup.NewSettings(store)
	app.warmupSvc = warmup.NewService(warmup.ServiceConfig{
		Client:          app.client,
		ModelCacheTTL:   envCfg.WarmupModelCacheTTL,
		ModelCacheSlots: envCfg.WarmupModelCacheEntries,
	})
	app.warmupBoard = warmup.NewBoard()
	app.warmupSched = warmup.NewScheduler(warmup.SchedulerConfig{
		Settings: app.warmupSettings,
		Service:  app.warmupSvc,
		Client:   app.client,
		Board:    app.warmupBoard,
		ProxyUp:  app.manager.CheckResponding,
	})

	return app, nil
}

// startBackgroundServices launches the pollers that run alongside the proxy.
func (a *quotioApp) startBackgroundServices() {
	a.statsSvc.Start()
	log.Println("[app] usage-stats poller started")

	a.warmupSched.Restart()
	log.Println("[app] warmup scheduler started")

	a.refreshStopCh = make(chan struct{})
	a.refreshWG.Add(1)
	go func() {
		defer a.refreshWG.Done()
		scanloop.Run(a.refreshStopCh, a.autoRefreshInterval, scanloop.DefaultJitterRange, a.autoRefresh)
	}()
	log.Println("[app] quota auto-refresh loop started")
}

// autoRefreshInterval re-reads the user's refresh cadence each cycle.
func (a *quotioApp) autoRefreshInterval() time.Duration {
	minutes := a.store.GetInt(settings.KeyAutoRefreshMinutes, 0)
	if minutes > 0 {
		return time.Duration(minutes) * time.Minute
	}
	return a.envCfg.AutoRefreshInterval
}

func (a *quotioApp) autoRefresh() {
	if !a.store.GetBool(settings.KeyAutoRefreshEnabled, true) {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if !a.manager.CheckResponding(ctx) {
		return
	}
	if err := a.pipeline.RefreshAll(ctx); err != nil {
		log.Printf("[app] quota refresh: %v", err)
	}
}

// shutdown stops event sources first, then sinks, then the proxy itself.
func (a *quotioApp) shutdown() {
	if a.refreshStopCh != nil {
		close(a.refreshStopCh)
		a.refreshWG.Wait()
		log.Println("[app] quota auto-refresh loop stopped")
	}

	a.warmupSched.Stop()
	log.Println("[app] warmup scheduler stopped")

	a.statsSvc.Stop()
	log.Println("[app] usage-stats poller stopped")
	if err := a.statsRepo.Close(); err != nil {
		log.Printf("[app] usage-stats close: %v", err)
	}

	a.warmupSvc.Close()

	a.manager.Stop()
	log.Println("[app] proxy stopped")
}

func cmdStart(args []string) int {
	flagPort, err := parsePortFlag("start", args)
	if err != nil {
		return exitFailure
	}
	app, err := newApp(flagPort)
	if err != nil {
		fmt.Fprintf(os.Stderr, "quotio: %v\n", err)
		return exitFailure
	}

	startCtx, cancelStart := context.WithCancel(context.Background())
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// A signal during startup cancels it instead of orphaning the child.
	startDone := make(chan struct{})
	go func() {
		select {
		case <-quit:
			app.manager.CancelStartup()
			cancelStart()
		case <-startDone:
		}
	}()

	err = app.manager.Start(startCtx)
	close(startDone)
	cancelStart()
	if err != nil {
		fmt.Fprintf(os.Stderr, "quotio: start: %v\n", err)
		return exitCodeFor(err)
	}
	log.Printf("[app] proxy running on %s", app.manager.BaseURL())

	app.startBackgroundServices()
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if err := app.pipeline.RefreshAll(ctx); err != nil {
			log.Printf("[app] initial quota refresh: %v", err)
		}
	}()

	sig := <-quit
	log.Printf("[app] received signal %s, shutting down...", sig)
	app.shutdown()
	return exitOK
}

func cmdStop(args []string) int {
	flagPort, err := parsePortFlag("stop", args)
	if err != nil {
		return exitFailure
	}
	app, err := newApp(flagPort)
	if err != nil {
		fmt.Fprintf(os.Stderr, "quotio: %v\n", err)
		return exitFailure
	}
	defer app.statsRepo.Close()
	defer app.warmupSvc.Close()

	port := app.manager.Port()
	if !supervise.PortListening(port, app.envCfg.ProbeTimeout) {
		fmt.Printf("proxy is not running on port %d\n", port)
		return exitOK
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if !app.manager.CheckResponding(ctx) {
		fmt.Fprintf(os.Stderr, "quotio: port %d is held by a foreign process, not stopping it\n", port)
		return exitFailure
	}
	supervise.KillProcessOnPort(ctx, port)
	if supervise.PortListening(port, app.envCfg.ProbeTimeout) {
		fmt.Fprintf(os.Stderr, "quotio: proxy on port %d did not stop\n", port)
		return exitFailure
	}
	fmt.Printf("proxy on port %d stopped\n", port)
	return exitOK
}

func cmdStatus(args []string) int {
	flagPort, err := parsePortFlag("status", args)
	if err != nil {
		return exitFailure
	}
	app, err := newApp(flagPort)
	if err != nil {
		fmt.Fprintf(os.Stderr, "quotio: %v\n", err)
		return exitFailure
	}
	defer app.statsRepo.Close()
	defer app.warmupSvc.Close()

	port := app.manager.Port()
	listening := supervise.PortListening(port, app.envCfg.ProbeTimeout)
	responding := false
	if listening {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		responding = app.manager.CheckResponding(ctx)
		cancel()
	}

	fmt.Printf("installed:  %v\n", app.manager.Installed())
	fmt.Printf("port:       %d\n", port)
	fmt.Printf("listening:  %v\n", listening)
	fmt.Printf("responding: %v\n", responding)
	if listening && !responding {
		fmt.Println("warning:    port is held by a process that is not our proxy")
	}
	if latest, ok, err := app.statsRepo.Latest(); err == nil && ok {
		fmt.Printf("requests:   %d total, %d failed (as of %s)\n",
			latest.TotalRequests, latest.FailureCount, latest.TakenAt.Format(time.RFC3339))
	}
	return exitOK
}

func cmdRefresh(args []string) int {
	flagPort, err := parsePortFlag("refresh", args)
	if err != nil {
		return exitFailure
	}
	app, err := newApp(flagPort)
	if err != nil {
		fmt.Fprintf(os.Stderr, "quotio: %v\n", err)
		return exitFailure
	}
	defer app.statsRepo.Close()
	defer app.warmupSvc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if !app.manager.CheckResponding(ctx) {
		fmt.Fprintf(os.Stderr, "quotio: proxy is not responding on port %d\n", app.manager.Port())
		return exitFailure
	}
	if err := app.pipeline.RefreshAll(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "quotio: refresh: %v\n", err)
		return exitFailure
	}

	snapshot := app.quotas.Snapshot()
	if len(snapshot) == 0 {
		fmt.Println("no connected accounts")
		return exitOK
	}
	providers := make([]string, 0, len(snapshot))
	for p := range snapshot {
		providers = append(providers, string(p))
	}
	provider.SortKeys(providers, func(key string) string {
		return provider.Provider(key).DisplayName()
	})
	for _, key := range providers {
		p := provider.Provider(key)
		accounts := snapshot[p]
		fmt.Printf("%s (%d account(s))\n", p.DisplayName(), len(accounts))
		keys := make([]string, 0, len(accounts))
		for k := range accounts {
			keys = append(keys, k)
		}
		provider.SortKeys(keys, func(k string) string {
			return accounts[k].DisplayName()
		})
		for _, k := range keys {
			acct := accounts[k]
			if lowest, ok := acct.LowestPercentage(); ok {
				fmt.Printf("  %-40s %5.1f%% remaining\n", k, lowest)
			} else if acct.QuotaCapable {
				fmt.Printf("  %-40s quota unknown\n", k)
			} else {
				fmt.Printf("  %-40s connected (no quota data)\n", k)
			}
		}
	}
	return exitOK
}

func cmdInstall(args []string) int {
	app, err := newApp(0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "quotio: %v\n", err)
		return exitFailure
	}
	defer app.statsRepo.Close()
	defer app.warmupSvc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), app.envCfg.DownloadTimeout+time.Minute)
	defer cancel()
	tag, err := app.manager.Install(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "quotio: install: %v\n", err)
		return exitCodeFor(err)
	}
	fmt.Printf("installed %s (%s)\n", filepath.Base(app.manager.BinaryPath()), tag)
	return exitOK
}
