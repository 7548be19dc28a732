// Command listend runs a continuous listening daemon: it captures audio,
// streams it through the configured recognition backend, and keeps an
// operational HTTP server with health and metrics endpoints.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/voyagerlabs/listenkit/internal/config"
	"github.com/voyagerlabs/listenkit/internal/health"
	"github.com/voyagerlabs/listenkit/internal/observe"
	"github.com/voyagerlabs/listenkit/internal/session"
	"github.com/voyagerlabs/listenkit/pkg/asr"
	asrmock "github.com/voyagerlabs/listenkit/pkg/asr/mock"
	"github.com/voyagerlabs/listenkit/pkg/asr/whisper"
	"github.com/voyagerlabs/listenkit/pkg/asr/wsbridge"
	"github.com/voyagerlabs/listenkit/pkg/audio"
	malgosource "github.com/voyagerlabs/listenkit/pkg/audio/malgo"
	audiomock "github.com/voyagerlabs/listenkit/pkg/audio/mock"
	"github.com/voyagerlabs/listenkit/pkg/listen"
)

const defaultListenAddr = ":8080"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "listend.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "listend: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "listend: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	slog.Info("listend starting",
		"config", *configPath,
		"provider", cfg.Provider.Name,
		"audio", cfg.Audio.Name,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "listend"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Listener ──────────────────────────────────────────────────────────────
	d := &daemon{metrics: metrics}
	if err := d.rebuild(ctx, cfg); err != nil {
		slog.Error("failed to start listener", "err", err)
		return 1
	}
	defer d.close()

	// ── Config hot-reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d.applyReload(ctx, old, new, logLevel)
	})
	if err != nil {
		slog.Error("failed to start config watcher", "err", err)
		return 1
	}
	defer watcher.Stop()

	// ── Operational HTTP server ───────────────────────────────────────────────
	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = defaultListenAddr
	}

	mux := http.NewServeMux()
	health.New(health.Checker{Name: "provider", Check: d.providerCheck}).Register(mux)
	mux.Handle("GET /metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(metrics)(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("operational server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("operational server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	slog.Info("listend ready — press Ctrl+C to shut down")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Daemon state ──────────────────────────────────────────────────────────────

// daemon owns the current listener and swaps it atomically on config reload.
type daemon struct {
	metrics *observe.Metrics

	// build overrides listener construction; nil selects buildListener.
	build func(*config.Config) (*listen.Listener, error)

	mu       sync.Mutex
	listener *listen.Listener
	subs     []*listen.Subscription
}

// rebuild constructs a fresh listener from cfg, initialises it, retires the
// previous one, and starts listening. The old listener is closed before the
// new one starts capturing; two live sessions would contend for the
// microphone.
func (d *daemon) rebuild(ctx context.Context, cfg *config.Config) error {
	build := d.build
	if build == nil {
		build = func(c *config.Config) (*listen.Listener, error) {
			return buildListener(c, d.metrics)
		}
	}
	l, err := build(cfg)
	if err != nil {
		return err
	}

	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := l.Initialize(initCtx); err != nil {
		l.Close()
		return err
	}
	if err := l.RequestPermission(initCtx); err != nil {
		l.Close()
		return err
	}

	d.mu.Lock()
	old := d.listener
	d.listener = nil
	d.subs = nil
	d.mu.Unlock()
	if old != nil {
		if err := old.Close(); err != nil {
			slog.Warn("previous listener close error", "err", err)
		}
	}

	subs := attachLogging(l)
	if err := l.Start(cfg.Listen.Locale); err != nil {
		l.Close()
		return err
	}

	d.mu.Lock()
	d.listener = l
	d.subs = subs
	d.mu.Unlock()

	slog.Info("listener started", "backend", l.Backend(), "locale", cfg.Listen.Locale)
	return nil
}

// applyReload reacts to a config file change. Log-level changes apply in
// place; provider, audio, or session tuning changes restart the listener.
func (d *daemon) applyReload(ctx context.Context, old, new *config.Config, logLevel *slog.LevelVar) {
	diff := config.Diff(old, new)

	if diff.LogLevelChanged {
		logLevel.Set(slogLevel(diff.NewLogLevel))
		slog.Info("log level changed", "level", diff.NewLogLevel)
	}

	if !diff.ProviderChanged && !diff.AudioChanged && !diff.ListenChanged {
		return
	}
	for _, change := range diff.ListenChanges {
		slog.Info("listen tuning changed", "change", change)
	}

	slog.Info("restarting listener for configuration change",
		"provider_changed", diff.ProviderChanged,
		"audio_changed", diff.AudioChanged,
		"listen_changed", diff.ListenChanged,
	)
	if err := d.rebuild(ctx, new); err != nil {
		slog.Error("listener rebuild failed", "err", err)
	}
}

// providerCheck is the readiness probe: ready once the active listener has a
// successfully initialised provider.
func (d *daemon) providerCheck(_ context.Context) error {
	d.mu.Lock()
	l := d.listener
	d.mu.Unlock()
	if l == nil {
		return errors.New("listener not built")
	}
	if !l.IsInitialized() {
		return errors.New("provider not initialized")
	}
	return nil
}

func (d *daemon) close() {
	d.mu.Lock()
	l := d.listener
	d.listener = nil
	d.mu.Unlock()
	if l == nil {
		return
	}
	if err := l.Close(); err != nil {
		slog.Warn("listener close error", "err", err)
	}
}

// ── Listener wiring ───────────────────────────────────────────────────────────

// buildListener instantiates the configured audio source factory and
// recognition provider and wires them into a listener.
func buildListener(cfg *config.Config, metrics *observe.Metrics) (*listen.Listener, error) {
	reg := config.NewRegistry()
	registerAudioBackends(reg)

	audioEntry := cfg.Audio
	if audioEntry.Name == "" {
		audioEntry.Name = "malgo"
	}
	sources, err := reg.CreateAudio(audioEntry)
	if err != nil {
		return nil, fmt.Errorf("create audio backend %q: %w", audioEntry.Name, err)
	}

	registerASRBackends(reg, sources)
	provider, err := reg.CreateASR(cfg.Provider)
	if err != nil {
		return nil, fmt.Errorf("create provider %q: %w", cfg.Provider.Name, err)
	}

	return listen.New(provider, listen.Config{
		Session: sessionConfig(cfg.Listen, metrics),
	}), nil
}

// registerAudioBackends wires the built-in audio source factories into reg.
func registerAudioBackends(reg *config.Registry) {
	reg.RegisterAudio("malgo", func(entry config.ProviderEntry) (audio.SourceFactory, error) {
		var opts []malgosource.Option
		if rate := optInt(entry.Options, "sample_rate"); rate > 0 {
			opts = append(opts, malgosource.WithSampleRate(rate))
		}
		if ch := optInt(entry.Options, "channels"); ch > 0 {
			opts = append(opts, malgosource.WithChannels(ch))
		}
		return func() (audio.Source, error) {
			return malgosource.New(opts...)
		}, nil
	})

	reg.RegisterAudio("mock", func(config.ProviderEntry) (audio.SourceFactory, error) {
		return func() (audio.Source, error) {
			return audiomock.NewSource(), nil
		}, nil
	})
}

// registerASRBackends wires the built-in recognition provider factories into
// reg. Providers that capture their own audio receive the source factory.
func registerASRBackends(reg *config.Registry, sources audio.SourceFactory) {
	reg.RegisterASR("whisper", func(entry config.ProviderEntry) (asr.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if ms := optInt(entry.Options, "silence_threshold_ms"); ms > 0 {
			opts = append(opts, whisper.WithSilenceThresholdMs(ms))
		}
		if ms := optInt(entry.Options, "max_buffer_ms"); ms > 0 {
			opts = append(opts, whisper.WithMaxBufferDurationMs(ms))
		}
		if d := optDuration(entry.Options, "speech_timeout"); d > 0 {
			opts = append(opts, whisper.WithSpeechTimeout(d))
		}
		return whisper.New(entry.BaseURL, sources, opts...)
	})

	reg.RegisterASR("whisper-native", func(entry config.ProviderEntry) (asr.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = optString(entry.Options, "model_path")
		}
		var opts []whisper.NativeOption
		if ms := optInt(entry.Options, "silence_threshold_ms"); ms > 0 {
			opts = append(opts, whisper.WithNativeSilenceThresholdMs(ms))
		}
		if d := optDuration(entry.Options, "speech_timeout"); d > 0 {
			opts = append(opts, whisper.WithNativeSpeechTimeout(d))
		}
		return whisper.NewNative(modelPath, sources, opts...)
	})

	reg.RegisterASR("wsbridge", func(entry config.ProviderEntry) (asr.Provider, error) {
		var opts []wsbridge.Option
		if entry.APIKey != "" {
			opts = append(opts, wsbridge.WithAPIKey(entry.APIKey))
		}
		if min := optFloat(entry.Options, "min_confidence"); min > 0 {
			opts = append(opts, wsbridge.WithMinConfidence(min))
		}
		return wsbridge.New(entry.BaseURL, sources, opts...)
	})

	reg.RegisterASR("mock", func(config.ProviderEntry) (asr.Provider, error) {
		return &asrmock.Provider{NameValue: "mock"}, nil
	})
}

// sessionConfig maps the YAML tuning block onto the controller config.
func sessionConfig(lc config.ListenConfig, metrics *observe.Metrics) session.Config {
	return session.Config{
		Locale:             lc.Locale,
		ThrottleInterval:   lc.ThrottleInterval.Std(),
		RestartDelay:       lc.RestartDelay.Std(),
		ForcedCleanupDelay: lc.ForcedCleanupDelay.Std(),
		StartTimeout:       lc.StartTimeout.Std(),
		CancelGrace:        lc.CancelGrace.Std(),
		DuplicateThreshold: lc.DuplicateThreshold,
		Metrics:            metrics,
	}
}

// attachLogging subscribes log handlers for the caller-facing event stream.
func attachLogging(l *listen.Listener) []*listen.Subscription {
	var subs []*listen.Subscription
	subscribe := func(kind listen.Kind, h listen.Handler) {
		sub, err := l.Subscribe(kind, h)
		if err != nil {
			slog.Warn("subscribe failed", "kind", kind, "err", err)
			return
		}
		subs = append(subs, sub)
	}

	subscribe(listen.Started, func(ev listen.Event) {
		slog.Info("session started", "session_id", ev.SessionID)
	})
	subscribe(listen.Stopped, func(ev listen.Event) {
		slog.Info("session stopped", "session_id", ev.SessionID)
	})
	subscribe(listen.PartialResult, func(ev listen.Event) {
		slog.Debug("partial", "session_id", ev.SessionID, "text", ev.Text)
	})
	subscribe(listen.Result, func(ev listen.Event) {
		slog.Info("result", "session_id", ev.SessionID, "text", ev.Text)
	})
	subscribe(listen.Error, func(ev listen.Event) {
		slog.Error("recognition error", "session_id", ev.SessionID, "code", ev.Text, "err", ev.Err)
	})
	return subs
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// optString extracts a string value from a backend Options map. Returns ""
// if the map is nil, the key is absent, or the value has the wrong type.
func optString(opts map[string]any, key string) string {
	if v, ok := opts[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// optInt extracts an integer option. YAML numbers decode as int; values of
// any other type yield zero.
func optInt(opts map[string]any, key string) int {
	if v, ok := opts[key]; ok {
		switch n := v.(type) {
		case int:
			return n
		case float64:
			return int(n)
		}
	}
	return 0
}

// optFloat extracts a float option, accepting YAML ints as well.
func optFloat(opts map[string]any, key string) float64 {
	if v, ok := opts[key]; ok {
		switch n := v.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		}
	}
	return 0
}

// optDuration extracts a Go duration string option (e.g. "8s").
func optDuration(opts map[string]any, key string) time.Duration {
	s := optString(opts, key)
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		slog.Warn("invalid duration option", "key", key, "value", s, "err", err)
		return 0
	}
	return d
}
