// v0
// internal/config/config.go
package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// SourceMode selects the real-time data source variant.
type SourceMode string

const (
	ModeMQTT SourceMode = "mqtt"
	ModeSSE  SourceMode = "sse"
	ModePoll SourceMode = "poll"
)

// Config captures all runtime settings of the telemetry service. Values
// come from built-in defaults, an optional .env file, an optional
// properties file and finally SCTK_* environment variables.
type Config struct {
	ListenAddress    string
	LogFilePath      string
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	ShutdownTimeout  time.Duration
	PropertiesPath   string
	// Location is used to label series buckets.
	Location *time.Location

	// Reservoir geometry.
	ReservoirMaxLevel       float64
	ReservoirFloorLevel     float64
	ReservoirLitersPerMeter float64
	TrendDeadband           float64

	// Rolling series sizing.
	TileWidth      time.Duration
	TileCapacity   int
	QCTileWidth    time.Duration
	QCTileCapacity int
	BigCapacity    int
	// DefaultBigKey and DefaultBigHours form the initial big series selection.
	DefaultBigKey   string
	DefaultBigHours float64

	// Real-time source.
	SourceMode      SourceMode
	MQTTBrokers     []string
	MQTTTopic       string
	MQTTClientID    string
	SSEURLs         []string
	ConnectTimeout  time.Duration
	RestartBackoff  time.Duration
	MaxRestarts     int
	PollLatestURL   string
	PollQCURL       string
	PollInterval    time.Duration
	FetchTimeout    time.Duration
	IngestQueueSize int
	// ResetOnReconnect clears quantity tiles when a lost source reconnects.
	ResetOnReconnect bool
	// EventsKeepAlive is the comment interval on idle /events streams.
	EventsKeepAlive time.Duration

	// Tabular QC feed.
	QCFeedURL      string
	QCPullInterval time.Duration

	// Historical ranges.
	HistoryURL       string
	HistoryRetention time.Duration

	// Staff schedule file; an empty path disables the schedule route data.
	SchedulePath           string
	ScheduleReloadInterval time.Duration

	// Outbound forwarding.
	WebhookURL      string
	WebhookInterval time.Duration
	KafkaBrokers    []string
	KafkaTopic      string

	// Circuit breaker shared by outbound HTTP and Kafka calls.
	BreakerMaxFailures  int
	BreakerResetTimeout time.Duration
	BreakerSuccesses    int
}

const (
	envPrefix          = "SCTK_"
	defaultPropsPath   = "sctk.properties"
	defaultEnvFile     = ".env"
	defaultMQTTTopic   = "data/sctkiotserver/groupsctkiotserver/123"
	reservoirVolumeM3  = 3000.0
	reservoirMaxLevelM = 8.0
)

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		ListenAddress:    ":3000",
		LogFilePath:      filepath.Clean("logs/sctk-telemetry.log"),
		HTTPReadTimeout:  5 * time.Second,
		HTTPWriteTimeout: 10 * time.Second,
		ShutdownTimeout:  5 * time.Second,
		PropertiesPath:   defaultPropsPath,
		Location:         time.Local,

		ReservoirMaxLevel:       reservoirMaxLevelM,
		ReservoirFloorLevel:     1.0,
		ReservoirLitersPerMeter: reservoirVolumeM3 * 1000 / reservoirMaxLevelM,
		TrendDeadband:           0.2,

		TileWidth:       10 * time.Second,
		TileCapacity:    18,
		QCTileWidth:     time.Hour,
		QCTileCapacity:  5,
		BigCapacity:     720,
		DefaultBigKey:   "TOTAL_FLOW_DST",
		DefaultBigHours: 1,

		SourceMode:      ModeMQTT,
		MQTTBrokers:     []string{"tcp://localhost:1883"},
		MQTTTopic:       defaultMQTTTopic,
		MQTTClientID:    "sctk-telemetry",
		ConnectTimeout:  10 * time.Second,
		RestartBackoff:  5 * time.Second,
		MaxRestarts:     3,
		PollInterval:    5 * time.Second,
		FetchTimeout:    25 * time.Second,
		IngestQueueSize: 256,
		EventsKeepAlive: 15 * time.Second,

		QCPullInterval: 20 * time.Second,

		HistoryRetention: 48 * time.Hour,

		SchedulePath:           "schedule.json",
		ScheduleReloadInterval: 10 * time.Second,

		WebhookInterval: 60 * time.Second,

		BreakerMaxFailures:  5,
		BreakerResetTimeout: 30 * time.Second,
		BreakerSuccesses:    1,
	}
}

// Load resolves configuration by layering defaults, .env, the properties
// file and environment variables. The properties file location can be
// overridden with SCTK_PROPERTIES_PATH.
func Load() (Config, error) {
	if err := godotenv.Load(defaultEnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", defaultEnvFile, err)
	}

	cfg := Default()
	if v, ok := lookupEnvTrimmed(envPrefix + "PROPERTIES_PATH"); ok && v != "" {
		cfg.PropertiesPath = v
	}
	if err := applyProperties(&cfg, cfg.PropertiesPath); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, err
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyProperties(cfg *Config, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = f.Close()
	}()

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") || strings.HasPrefix(raw, ";") {
			continue
		}
		parts := strings.SplitN(raw, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid properties entry on line %d", line)
		}
		key := strings.ToLower(strings.TrimSpace(parts[0]))
		if err := Set(cfg, key, strings.TrimSpace(parts[1])); err != nil {
			return fmt.Errorf("property %s: %w", key, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read properties: %w", err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	for _, key := range settingKeys {
		name := envPrefix + strings.ToUpper(key)
		v, ok := lookupEnvTrimmed(name)
		if !ok {
			continue
		}
		if err := Set(cfg, key, v); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.ListenAddress) == "" {
		errs = append(errs, errors.New("listen_address cannot be empty"))
	}
	if c.ReservoirMaxLevel <= 0 {
		errs = append(errs, errors.New("reservoir_max_level must be positive"))
	}
	if c.ReservoirFloorLevel < 0 || c.ReservoirFloorLevel >= c.ReservoirMaxLevel {
		errs = append(errs, errors.New("reservoir_floor_level must be within [0, reservoir_max_level)"))
	}
	if c.ReservoirLitersPerMeter <= 0 {
		errs = append(errs, errors.New("reservoir_liters_per_meter must be positive"))
	}
	if c.TrendDeadband < 0 {
		errs = append(errs, errors.New("trend_deadband cannot be negative"))
	}
	if c.TileWidth < time.Second || c.QCTileWidth < time.Second {
		errs = append(errs, errors.New("tile widths must be at least one second"))
	}
	if c.TileCapacity <= 0 || c.QCTileCapacity <= 0 || c.BigCapacity <= 0 {
		errs = append(errs, errors.New("series capacities must be positive"))
	}
	switch c.SourceMode {
	case ModeMQTT:
		if len(c.MQTTBrokers) == 0 {
			errs = append(errs, errors.New("mqtt mode needs at least one broker"))
		}
		if strings.TrimSpace(c.MQTTTopic) == "" {
			errs = append(errs, errors.New("mqtt_topic cannot be empty"))
		}
	case ModeSSE:
		if len(c.SSEURLs) == 0 {
			errs = append(errs, errors.New("sse mode needs at least one sse_urls entry"))
		}
	case ModePoll:
		if c.PollLatestURL == "" && c.PollQCURL == "" {
			errs = append(errs, errors.New("poll mode needs poll_latest_url or poll_qc_url"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown source_mode %q", c.SourceMode))
	}
	if c.IngestQueueSize <= 0 {
		errs = append(errs, errors.New("ingest_queue_size must be positive"))
	}
	if c.KafkaTopic != "" && len(c.KafkaBrokers) == 0 {
		errs = append(errs, errors.New("kafka_topic needs kafka_brokers"))
	}
	return errors.Join(errs...)
}

// PollConfigured reports whether a polling fallback can be built.
func (c Config) PollConfigured() bool {
	return c.PollLatestURL != "" || c.PollQCURL != ""
}

func lookupEnvTrimmed(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func splitAndTrim(raw string) []string {
	fields := strings.Split(raw, ",")
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		trimmed := strings.TrimSpace(field)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func parsePositiveMillis(v string) (time.Duration, error) {
	if strings.TrimSpace(v) == "" {
		return 0, errors.New("value cannot be empty")
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid integer: %w", err)
	}
	if ms <= 0 {
		return 0, errors.New("value must be greater than zero")
	}
	return time.Duration(ms) * time.Millisecond, nil
}

// parseDuration accepts Go durations ("20s") or plain seconds ("20").
func parseDuration(v string) (time.Duration, error) {
	if d, err := time.ParseDuration(v); err == nil {
		if d <= 0 {
			return 0, errors.New("duration must be positive")
		}
		return d, nil
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	if secs <= 0 {
		return 0, errors.New("duration must be positive")
	}
	return time.Duration(secs * float64(time.Second)), nil
}
