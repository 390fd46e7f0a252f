// Package daemon wires every component into the running agent: it
// constructs the store, trust registry, evaluators, dispatcher,
// collectors and optional dashboard from a config.Options, starts them,
// and owns the stop signal and shutdown drain deadline.
package daemon

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/tarekazabou/sentineld/internal/alerts"
	"github.com/tarekazabou/sentineld/internal/anomaly"
	"github.com/tarekazabou/sentineld/internal/collectors/file"
	"github.com/tarekazabou/sentineld/internal/collectors/network"
	"github.com/tarekazabou/sentineld/internal/collectors/process"
	"github.com/tarekazabou/sentineld/internal/collectors/registry"
	"github.com/tarekazabou/sentineld/internal/config"
	"github.com/tarekazabou/sentineld/internal/dashboard"
	"github.com/tarekazabou/sentineld/internal/dispatcher"
	"github.com/tarekazabou/sentineld/internal/heuristics"
	"github.com/tarekazabou/sentineld/internal/hostprobe"
	"github.com/tarekazabou/sentineld/internal/metrics"
	"github.com/tarekazabou/sentineld/internal/rules"
	"github.com/tarekazabou/sentineld/internal/store"
	"github.com/tarekazabou/sentineld/internal/trust"
)

// shutdownDrainDeadline bounds how long shutdown gives the dashboard to
// finish in-flight requests. The dispatcher bounds its own queue drain
// with a 5s timer of the same length inside dispatcher.Run.
const shutdownDrainDeadline = 5 * time.Second

// learningCheckInterval is how often the learning-mode auto-exit ticker
// re-evaluates elapsed time against learning_duration_days.
const learningCheckInterval = time.Hour

// Daemon owns every running component's lifecycle.
type Daemon struct {
	opts  *config.Options
	log   *logrus.Logger
	store *store.Store

	trust      *trust.Registry
	dispatcher *dispatcher.Dispatcher
	sink       *alerts.Sink
	model      *anomaly.Model
	dashboard  *dashboard.Server

	startedAt time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs every component from opts but starts nothing yet.
func New(opts *config.Options, log *logrus.Logger, reg prometheus.Registerer) (*Daemon, error) {
	st, err := store.Open(opts.StorePath)
	if err != nil {
		return nil, fmt.Errorf("daemon: open store: %w", err)
	}

	m := metrics.New(reg)
	trustRegistry := trust.New(st)
	if err := loadTrustSeed(trustRegistry, opts.ConfigDir); err != nil {
		log.WithError(err).Warn("daemon: trust seed load failed, continuing without it")
	}

	rulesEngine := rules.NewEngine(rules.BuiltinOptions{
		SuspiciousProcessNames: suspiciousProcessNames,
		SuspiciousPorts:        opts.NetworkSuspiciousPorts,
		UploadThresholdMiB:     float64(opts.NetworkMaxUploadMiBMin),
		HighIOThresholdBytes:   10 * 1024 * 1024,
		HighConnectionCount:    100,
	})
	if customDir := filepath.Join(opts.ConfigDir, "rules.d"); dirExists(customDir) {
		if err := rulesEngine.LoadCustomRules(customDir); err != nil {
			log.WithError(err).Warn("daemon: custom rule load failed")
		}
	}

	heuristicsEngine := heuristics.NewEngine()

	var model *anomaly.Model
	if opts.MLEnabled {
		model = anomaly.NewModel(opts.MLMinSamplesForTraining, log, m)
		if err := model.Load(opts.ModelPath); err != nil {
			log.WithError(err).Warn("daemon: anomaly model load failed, starting cold")
		}
	}

	notifier := &alerts.LogNotifier{Log: log}
	sink := alerts.New(st, notifier, m, log, opts.LearningMode)

	var anomalyEvaluator dispatcher.Evaluator
	if model != nil {
		anomalyEvaluator = model
	}
	disp := dispatcher.New(&storeAdapter{st}, rulesEngine, heuristicsEngine, anomalyEvaluator, sink, m, log)

	var dash *dashboard.Server
	if opts.WebEnabled {
		dash = dashboard.New(fmt.Sprintf("%s:%d", opts.WebHost, opts.WebPort), st, log)
	}

	return &Daemon{
		opts: opts, log: log, store: st,
		trust: trustRegistry, dispatcher: disp, sink: sink, model: model, dashboard: dash,
	}, nil
}

// Run starts every collector, the dispatcher consumer, the optional
// dashboard, and the learning-mode auto-exit ticker, then blocks until
// ctx is canceled. On cancellation it stops every collector and waits
// for the dispatcher, whose drain is itself bounded to 5s.
func (d *Daemon) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.startedAt = time.Now()

	probe := d.buildProbe()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.dispatcher.Run(runCtx)
	}()

	if d.opts.ProcessEnabled {
		d.startCollector(runCtx, process.New(
			probe, probe, d.trust, &storeAdapter{d.store}, d.dispatcher, nil, d.log,
			time.Duration(d.opts.ProcessInterval)*time.Second,
		))
	}
	if d.opts.FileEnabled {
		fc := file.New(
			hostprobe.NewFsnotifyWatcher(), expandHome(d.opts.FileWatchedFolders), d.opts.FileSensitiveExtensions,
			&storeAdapter{d.store}, d.dispatcher, nil, d.log,
		)
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := fc.Run(runCtx); err != nil && d.log != nil {
				d.log.WithError(err).Error("file collector exited with error")
			}
		}()
	}
	if d.opts.NetworkEnabled {
		d.startCollector(runCtx, network.New(
			probe, d.opts.NetworkSuspiciousPorts, float64(d.opts.NetworkMaxUploadMiBMin), d.dispatcher, nil, d.log,
			time.Duration(d.opts.NetworkInterval)*time.Second,
		))
	}
	if d.opts.RegistryEnabled && runtime.GOOS == "windows" {
		d.startCollector(runCtx, registry.New(
			hostprobe.NewWindowsRegistry(), parseWatchedKeys(d.opts.RegistryWatchedKeys), d.dispatcher, nil, d.log,
			time.Duration(d.opts.RegistryInterval)*time.Second,
		))
	}

	if d.dashboard != nil {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			if err := d.dashboard.ListenAndServe(); err != nil && d.log != nil {
				d.log.WithError(err).Error("dashboard server exited with error")
			}
		}()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.runLearningModeTicker(runCtx)
	}()

	<-runCtx.Done()
	return d.shutdown()
}

type collectorRunner interface {
	Run(ctx context.Context)
}

func (d *Daemon) startCollector(ctx context.Context, c collectorRunner) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		c.Run(ctx)
	}()
}

// Stop cancels the run context, triggering collector shutdown and the
// dispatcher's drain.
func (d *Daemon) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
}

func (d *Daemon) shutdown() error {
	if d.dashboard != nil {
		_ = d.dashboard.Shutdown(shutdownDrainDeadline)
	}
	d.wg.Wait()

	if d.model != nil {
		if err := d.model.Save(d.opts.ModelPath); err != nil && d.log != nil {
			d.log.WithError(err).Warn("daemon: anomaly model save failed")
		}
	}
	return d.store.Close()
}

// runLearningModeTicker implements the supplemented "learning-mode
// auto-exit" feature: once learning_duration_days has elapsed since
// startup, learning mode flips off without a restart.
func (d *Daemon) runLearningModeTicker(ctx context.Context) {
	if !d.opts.LearningMode {
		return
	}
	deadline := d.startedAt.Add(time.Duration(d.opts.LearningDurationDays) * 24 * time.Hour)
	ticker := time.NewTicker(learningCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if now.After(deadline) {
				d.sink.SetLearningMode(false)
				if d.log != nil {
					d.log.Info("daemon: learning_duration_days elapsed, learning mode disabled")
				}
				return
			}
		}
	}
}

func (d *Daemon) buildProbe() *hostprobe.OSProbe {
	var reg hostprobe.RegistryReader = hostprobe.NewWindowsRegistry()
	return hostprobe.NewOSProbe(hostprobe.NewFsnotifyWatcher(), reg)
}

func loadTrustSeed(r *trust.Registry, configDir string) error {
	path := filepath.Join(configDir, "whitelist_seed.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return r.LoadSeed(data)
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func expandHome(folders []string) []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return folders
	}
	out := make([]string, len(folders))
	for i, f := range folders {
		if len(f) >= 2 && f[:2] == "~/" {
			out[i] = filepath.Join(home, f[2:])
		} else {
			out[i] = f
		}
	}
	return out
}

func parseWatchedKeys(raw []string) []registry.WatchedKey {
	out := make([]registry.WatchedKey, 0, len(raw))
	for _, r := range raw {
		for i := 0; i < len(r); i++ {
			if r[i] == '\\' {
				out = append(out, registry.WatchedKey{Hive: r[:i], Subkey: r[i+1:]})
				break
			}
		}
	}
	return out
}

var suspiciousProcessNames = []string{
	"mimikatz", "psexec", "nc.exe", "ncat", "netcat", "powershell_ise",
}
