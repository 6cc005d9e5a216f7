// Package config loads gaze-tracer settings from config/config.yaml and
// GAZE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gaze-tracer/internal/dwell"
	"gaze-tracer/internal/fitting"
	"gaze-tracer/internal/gaze"
	"gaze-tracer/internal/session"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config is the top-level configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Gaze        GazeConfig        `mapstructure:"gaze"`
	Dwell       DwellConfig       `mapstructure:"dwell"`
	Calibration CalibrationConfig `mapstructure:"calibration"`
	Store       StoreConfig       `mapstructure:"store"`
	MQTT        MQTTConfig        `mapstructure:"mqtt"`
}

// ServerConfig holds HTTP settings.
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Mode string `mapstructure:"mode"`
	// Viewport is the screen size assumed until a client reports one.
	ViewportW float64 `mapstructure:"viewport_w"`
	ViewportH float64 `mapstructure:"viewport_h"`
}

// LoggingConfig holds settings for the logger.
type LoggingConfig struct {
	Directory  string `mapstructure:"directory"`
	Level      string `mapstructure:"level"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// GazeConfig controls sample filtering and smoothing.
type GazeConfig struct {
	MinConfidence float64       `mapstructure:"min_confidence"`
	FlipX         bool          `mapstructure:"flip_x"`
	Smoothing     bool          `mapstructure:"smoothing"`
	MaxSampleRate float64       `mapstructure:"max_sample_rate"`
	StaleAfter    time.Duration `mapstructure:"stale_after"`
}

// DwellConfig is the dwell policy.
type DwellConfig struct {
	Threshold     time.Duration `mapstructure:"threshold"`
	ProximityPx   float64       `mapstructure:"proximity_px"`
	GazeTimeout   time.Duration `mapstructure:"gaze_timeout"`
	CheckInterval time.Duration `mapstructure:"check_interval"`
}

// CalibrationConfig controls the calibration session and fit.
type CalibrationConfig struct {
	Layout                   string  `mapstructure:"layout"`
	ClicksPerPoint           int     `mapstructure:"clicks_per_point"`
	RANSACThresholdPx        float64 `mapstructure:"ransac_threshold_px"`
	RANSACIterations         int     `mapstructure:"ransac_iterations"`
	EnableRBF                bool    `mapstructure:"enable_rbf"`
	RBFSigma                 float64 `mapstructure:"rbf_sigma"`
	TargetMedianPx           float64 `mapstructure:"target_median_px"`
	TargetP95Px              float64 `mapstructure:"target_p95_px"`
	AllowFingerprintMismatch bool    `mapstructure:"allow_fingerprint_mismatch"`
}

// StoreConfig selects the calibration store.
type StoreConfig struct {
	Backend       string        `mapstructure:"backend"`
	Path          string        `mapstructure:"path"`
	RedisAddr     string        `mapstructure:"redis_addr"`
	RedisPassword string        `mapstructure:"redis_password"`
	RedisDB       int           `mapstructure:"redis_db"`
	RedisTTL      time.Duration `mapstructure:"redis_ttl"`
}

// MQTTConfig configures the MQTT gaze source and event publisher.
type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Broker      string `mapstructure:"broker"`
	ClientID    string `mapstructure:"client_id"`
	GazeTopic   string `mapstructure:"gaze_topic"`
	TopicPrefix string `mapstructure:"topic_prefix"`
	QoS         int    `mapstructure:"qos"`
}

// Store backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// setDefaults sets the default values for the configuration.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8090")
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.viewport_w", 1920)
	v.SetDefault("server.viewport_h", 1080)

	v.SetDefault("logging.directory", "logs")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.max_size", 10)   // 10 MB
	v.SetDefault("logging.max_backups", 3) // Keep 3 backups
	v.SetDefault("logging.max_age", 7)     // 7 days
	v.SetDefault("logging.compress", true)

	v.SetDefault("gaze.min_confidence", gaze.DefaultMinConfidence)
	v.SetDefault("gaze.flip_x", false)
	v.SetDefault("gaze.smoothing", true)
	v.SetDefault("gaze.max_sample_rate", 60)
	v.SetDefault("gaze.stale_after", gaze.DefaultStaleAfter)

	v.SetDefault("dwell.threshold", dwell.DefaultDwellThreshold)
	v.SetDefault("dwell.proximity_px", dwell.DefaultProximityThreshold)
	v.SetDefault("dwell.gaze_timeout", dwell.DefaultGazeTimeout)
	v.SetDefault("dwell.check_interval", dwell.DefaultCheckInterval)

	v.SetDefault("calibration.layout", "grid12")
	v.SetDefault("calibration.clicks_per_point", session.DefaultClicksPerPoint)
	v.SetDefault("calibration.ransac_threshold_px", fitting.DefaultThresholdPx)
	v.SetDefault("calibration.ransac_iterations", fitting.DefaultMaxIterations)
	v.SetDefault("calibration.enable_rbf", false)
	v.SetDefault("calibration.rbf_sigma", fitting.DefaultRBFSigma)
	v.SetDefault("calibration.target_median_px", session.DefaultTargetMedianPx)
	v.SetDefault("calibration.target_p95_px", session.DefaultTargetP95Px)
	v.SetDefault("calibration.allow_fingerprint_mismatch", false)

	v.SetDefault("store.backend", BackendFile)
	v.SetDefault("store.path", "")
	v.SetDefault("store.redis_addr", "localhost:6379")
	v.SetDefault("store.redis_db", 0)
	v.SetDefault("store.redis_ttl", 0)

	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("mqtt.client_id", "gazed")
	v.SetDefault("mqtt.gaze_topic", "gaze/raw")
	v.SetDefault("mqtt.topic_prefix", "gaze")
	v.SetDefault("mqtt.qos", 0)
}

func newViper(projectRoot string) *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.AddConfigPath(filepath.Join(projectRoot, "config"))
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.SetEnvPrefix("GAZE") // e.g. GAZE_DWELL_THRESHOLD
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the configuration. A missing config file is fine; defaults and
// environment variables are used.
func Load(projectRoot string) (*Config, error) {
	return load(newViper(projectRoot))
}

func load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	var errs []error
	if c.Gaze.MinConfidence < 0 || c.Gaze.MinConfidence > 1 {
		errs = append(errs, fmt.Errorf("gaze.min_confidence must be in [0,1], got %v", c.Gaze.MinConfidence))
	}
	if c.Dwell.Threshold <= 0 {
		errs = append(errs, fmt.Errorf("dwell.threshold must be positive"))
	}
	if c.Dwell.GazeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("dwell.gaze_timeout must be positive"))
	}
	if c.Dwell.CheckInterval <= 0 {
		errs = append(errs, fmt.Errorf("dwell.check_interval must be positive"))
	}
	if c.Dwell.ProximityPx < 0 {
		errs = append(errs, fmt.Errorf("dwell.proximity_px must not be negative"))
	}
	if c.Calibration.ClicksPerPoint <= 0 {
		errs = append(errs, fmt.Errorf("calibration.clicks_per_point must be positive"))
	}
	if c.Calibration.Layout != "grid12" && c.Calibration.Layout != "five" {
		errs = append(errs, fmt.Errorf("calibration.layout must be grid12 or five, got %q", c.Calibration.Layout))
	}
	switch c.Store.Backend {
	case BackendFile, BackendSQLite, BackendRedis, BackendMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown store.backend %q", c.Store.Backend))
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2"))
	}
	return errors.Join(errs...)
}

// DwellPolicy converts the dwell section.
func (c *Config) DwellPolicy() dwell.Config {
	return dwell.Config{
		DwellThreshold:     c.Dwell.Threshold,
		ProximityThreshold: c.Dwell.ProximityPx,
		GazeTimeout:        c.Dwell.GazeTimeout,
		CheckInterval:      c.Dwell.CheckInterval,
	}
}

// SessionConfig converts the calibration section.
func (c *Config) SessionConfig() session.Config {
	points := session.DefaultPoints()
	if c.Calibration.Layout == "five" {
		points = session.FivePoints()
	}
	return session.Config{
		Points:         points,
		ClicksPerPoint: c.Calibration.ClicksPerPoint,
		RANSAC: fitting.RANSACOptions{
			ThresholdPx:   c.Calibration.RANSACThresholdPx,
			MaxIterations: c.Calibration.RANSACIterations,
		},
		TargetMedianPx:           c.Calibration.TargetMedianPx,
		TargetP95Px:              c.Calibration.TargetP95Px,
		EnableRBF:                c.Calibration.EnableRBF,
		RBFSigma:                 c.Calibration.RBFSigma,
		AllowFingerprintMismatch: c.Calibration.AllowFingerprintMismatch,
	}
}

// FilterConfig converts the gaze section.
func (c *Config) FilterConfig() gaze.FilterConfig {
	return gaze.FilterConfig{MinConfidence: c.Gaze.MinConfidence, FlipX: c.Gaze.FlipX}
}

// Watcher reloads the configuration when the file changes.
type Watcher struct {
	mu  sync.RWMutex
	cur *Config
	v   *viper.Viper
}

// Watch loads the configuration and keeps it current. onChange runs after a
// successful reload; a reload that fails validation keeps the old config.
func Watch(projectRoot string, log *zap.Logger, onChange func(*Config)) (*Watcher, error) {
	v := newViper(projectRoot)
	c, err := load(v)
	if err != nil {
		return nil, err
	}
	w := &Watcher{cur: c, v: v}

	v.OnConfigChange(func(e fsnotify.Event) {
		log.Info("Configuration file changed, reloading.", zap.String("file", e.Name))
		next, err := load(v)
		if err != nil {
			log.Error("Error reloading configuration", zap.Error(err))
			return
		}
		w.mu.Lock()
		w.cur = next
		w.mu.Unlock()
		if onChange != nil {
			onChange(next)
		}
	})
	v.WatchConfig()
	return w, nil
}

// Current returns the latest valid configuration.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cur
}
