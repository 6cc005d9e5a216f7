// Command gazed runs the gaze tracking service: it takes raw gaze samples over
// websocket, HTTP or MQTT and pushes dwell and calibration events back out.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gaze-tracer/internal/config"
	"gaze-tracer/internal/dispatch"
	"gaze-tracer/internal/gaze"
	"gaze-tracer/internal/logging"
	"gaze-tracer/internal/metrics"
	"gaze-tracer/internal/server"
	"gaze-tracer/internal/store"
	"gaze-tracer/internal/tracker"
	"gaze-tracer/internal/version"
	"gaze-tracer/pkg/geometry"

	"go.uber.org/zap"
)

func main() {
	root := flag.String("root", ".", "Project root holding config/config.yaml")
	showVersion := flag.Bool("version", false, "Print version and exit")
	console := flag.Bool("console", true, "Mirror logs to stdout")
	flag.Parse()

	if *showVersion {
		fmt.Printf("gazed %s\n", version.Get())
		return
	}

	if err := run(*root, *console); err != nil {
		fmt.Fprintf(os.Stderr, "gazed: %v\n", err)
		os.Exit(1)
	}
}

func run(root string, console bool) error {
	cfg, err := config.Load(root)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.Init("gazed", logging.Options{
		Directory:  cfg.Logging.Directory,
		Level:      cfg.Logging.Level,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		Console:    console,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer log.Sync()
	info := version.Get()
	log.Info("starting gazed", zap.String("version", info.Version), zap.String("commit", info.Commit))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	if c, ok := st.(io.Closer); ok {
		defer c.Close()
	}
	storeFields := []zap.Field{zap.String("backend", cfg.Store.Backend)}
	if fs, ok := st.(*store.FileStore); ok {
		storeFields = append(storeFields, zap.String("dir", fs.Dir()))
	}
	log.Info("calibration store ready", storeFields...)

	hub := dispatch.NewHub(log)
	dispatchers := dispatch.Multi{hub.Dispatcher()}

	var mqttSource *gaze.MQTTSource
	if cfg.MQTT.Enabled {
		client, err := dispatch.DialMQTT(cfg.MQTT.Broker, cfg.MQTT.ClientID+"-pub")
		if err != nil {
			return err
		}
		defer client.Disconnect(250)
		pub := dispatch.NewMQTTPublisher(client, cfg.MQTT.TopicPrefix, byte(cfg.MQTT.QoS), log)
		dispatchers = append(dispatchers, pub.Dispatcher())

		mqttSource = gaze.NewMQTTSource(gaze.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.GazeTopic,
			QoS:      byte(cfg.MQTT.QoS),
			MaxRate:  cfg.Gaze.MaxSampleRate,
		}, log)
		if err := mqttSource.Start(); err != nil {
			return err
		}
		defer mqttSource.Close()
		log.Info("mqtt connected", zap.String("broker", cfg.MQTT.Broker), zap.String("topic", cfg.MQTT.GazeTopic))
	}

	viewport := geometry.Viewport{W: cfg.Server.ViewportW, H: cfg.Server.ViewportH}
	tr := tracker.New(tracker.Options{
		Viewport:   viewport,
		Filter:     cfg.FilterConfig(),
		Smoothing:  cfg.Gaze.Smoothing,
		StaleAfter: cfg.Gaze.StaleAfter,
		Dwell:      cfg.DwellPolicy(),
		Session:    cfg.SessionConfig(),
		Store:      st,
		Dispatcher: dispatchers,
		Metrics:    metrics.Global(),
		Logger:     log,
	})

	if _, err := config.Watch(root, log, func(c *config.Config) {
		tr.SetPolicy(c.FilterConfig(), c.Gaze.Smoothing, c.DwellPolicy())
	}); err != nil {
		log.Warn("config reload disabled", zap.Error(err))
	}

	wsSource := gaze.NewWebSocketSource(cfg.Gaze.MaxSampleRate, log)
	defer tr.Attach(wsSource)()
	if mqttSource != nil {
		defer tr.Attach(mqttSource)()
	}

	srv := server.New(server.Options{
		Addr:    ":" + cfg.Server.Port,
		Mode:    cfg.Server.Mode,
		Tracker: tr,
		Hub:     hub,
		Source:  wsSource,
		Logger:  log,
	})

	go func() {
		if err := tr.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error("tracker stopped", zap.Error(err))
		}
	}()

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return store.NewMemoryStore(), nil
	case config.BackendSQLite:
		path := cfg.Path
		if path == "" {
			path = "gaze-tracer.db"
		}
		return store.OpenSQLite(ctx, path)
	case config.BackendRedis:
		s := store.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisTTL)
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := s.Ping(pingCtx); err != nil {
			s.Close()
			return nil, fmt.Errorf("connect to redis %s: %w", cfg.RedisAddr, err)
		}
		return s, nil
	default:
		return store.NewFileStore(cfg.Path), nil
	}
}
