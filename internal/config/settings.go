// v0
// internal/config/settings.go
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type setter func(cfg *Config, v string) error

var settings = map[string]setter{
	"listen_address": func(c *Config, v string) error { return nonEmpty(&c.ListenAddress, v) },
	"log_file":       func(c *Config, v string) error { return nonEmpty(&c.LogFilePath, v) },
	"http_read_timeout_ms": func(c *Config, v string) error {
		return millis(&c.HTTPReadTimeout, v)
	},
	"http_write_timeout_ms": func(c *Config, v string) error {
		return millis(&c.HTTPWriteTimeout, v)
	},
	"shutdown_timeout_ms": func(c *Config, v string) error { return millis(&c.ShutdownTimeout, v) },
	"timezone": func(c *Config, v string) error {
		loc, err := time.LoadLocation(v)
		if err != nil {
			return err
		}
		c.Location = loc
		return nil
	},

	"reservoir_max_level":        func(c *Config, v string) error { return float(&c.ReservoirMaxLevel, v) },
	"reservoir_floor_level":      func(c *Config, v string) error { return float(&c.ReservoirFloorLevel, v) },
	"reservoir_liters_per_meter": func(c *Config, v string) error { return float(&c.ReservoirLitersPerMeter, v) },
	"trend_deadband":             func(c *Config, v string) error { return float(&c.TrendDeadband, v) },

	"tile_width":        func(c *Config, v string) error { return duration(&c.TileWidth, v) },
	"tile_capacity":     func(c *Config, v string) error { return positiveInt(&c.TileCapacity, v) },
	"qc_tile_width":     func(c *Config, v string) error { return duration(&c.QCTileWidth, v) },
	"qc_tile_capacity":  func(c *Config, v string) error { return positiveInt(&c.QCTileCapacity, v) },
	"big_capacity":      func(c *Config, v string) error { return positiveInt(&c.BigCapacity, v) },
	"default_big_key":   func(c *Config, v string) error { return nonEmpty(&c.DefaultBigKey, v) },
	"default_big_hours": func(c *Config, v string) error { return float(&c.DefaultBigHours, v) },

	"source_mode": func(c *Config, v string) error {
		mode := SourceMode(strings.ToLower(v))
		switch mode {
		case ModeMQTT, ModeSSE, ModePoll:
			c.SourceMode = mode
			return nil
		}
		return fmt.Errorf("unknown mode %q", v)
	},
	"mqtt_brokers":      func(c *Config, v string) error { return list(&c.MQTTBrokers, v) },
	"mqtt_topic":        func(c *Config, v string) error { return nonEmpty(&c.MQTTTopic, v) },
	"mqtt_client_id":    func(c *Config, v string) error { return nonEmpty(&c.MQTTClientID, v) },
	"sse_urls":          func(c *Config, v string) error { return list(&c.SSEURLs, v) },
	"connect_timeout":   func(c *Config, v string) error { return duration(&c.ConnectTimeout, v) },
	"restart_backoff":   func(c *Config, v string) error { return duration(&c.RestartBackoff, v) },
	"max_restarts":      func(c *Config, v string) error { return nonNegativeInt(&c.MaxRestarts, v) },
	"poll_latest_url":   func(c *Config, v string) error { c.PollLatestURL = v; return nil },
	"poll_qc_url":       func(c *Config, v string) error { c.PollQCURL = v; return nil },
	"poll_interval":     func(c *Config, v string) error { return duration(&c.PollInterval, v) },
	"fetch_timeout":     func(c *Config, v string) error { return duration(&c.FetchTimeout, v) },
	"ingest_queue_size": func(c *Config, v string) error { return positiveInt(&c.IngestQueueSize, v) },
	"reset_on_reconnect": func(c *Config, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("must be a boolean: %w", err)
		}
		c.ResetOnReconnect = b
		return nil
	},
	"events_keepalive": func(c *Config, v string) error { return duration(&c.EventsKeepAlive, v) },

	"qc_feed_url":      func(c *Config, v string) error { c.QCFeedURL = v; return nil },
	"qc_pull_interval": func(c *Config, v string) error { return duration(&c.QCPullInterval, v) },

	"history_url":       func(c *Config, v string) error { c.HistoryURL = v; return nil },
	"history_retention": func(c *Config, v string) error { return duration(&c.HistoryRetention, v) },

	"schedule_path":            func(c *Config, v string) error { c.SchedulePath = v; return nil },
	"schedule_reload_interval": func(c *Config, v string) error { return duration(&c.ScheduleReloadInterval, v) },

	"webhook_url":      func(c *Config, v string) error { c.WebhookURL = v; return nil },
	"webhook_interval": func(c *Config, v string) error { return duration(&c.WebhookInterval, v) },
	"kafka_brokers":    func(c *Config, v string) error { return list(&c.KafkaBrokers, v) },
	"kafka_topic":      func(c *Config, v string) error { c.KafkaTopic = v; return nil },

	"breaker_max_failures":  func(c *Config, v string) error { return positiveInt(&c.BreakerMaxFailures, v) },
	"breaker_reset_timeout": func(c *Config, v string) error { return duration(&c.BreakerResetTimeout, v) },
	"breaker_successes":     func(c *Config, v string) error { return positiveInt(&c.BreakerSuccesses, v) },
}

// settingKeys lists every recognised key; environment variables use the
// upper-cased form with the SCTK_ prefix.
var settingKeys = func() []string {
	keys := make([]string, 0, len(settings))
	for k := range settings {
		keys = append(keys, k)
	}
	return keys
}()

// Set applies a single named setting to cfg.
func Set(cfg *Config, key, value string) error {
	fn, ok := settings[strings.ToLower(strings.TrimSpace(key))]
	if !ok {
		return fmt.Errorf("unknown setting %q", key)
	}
	return fn(cfg, strings.TrimSpace(value))
}

func nonEmpty(dst *string, v string) error {
	if v == "" {
		return errors.New("value cannot be empty")
	}
	*dst = v
	return nil
}

func millis(dst *time.Duration, v string) error {
	d, err := parsePositiveMillis(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

func duration(dst *time.Duration, v string) error {
	d, err := parseDuration(v)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

func float(dst *float64, v string) error {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fmt.Errorf("invalid number: %w", err)
	}
	*dst = f
	return nil
}

func positiveInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	if n <= 0 {
		return errors.New("value must be greater than zero")
	}
	*dst = n
	return nil
}

func nonNegativeInt(dst *int, v string) error {
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid integer: %w", err)
	}
	if n < 0 {
		return errors.New("value cannot be negative")
	}
	*dst = n
	return nil
}

func list(dst *[]string, v string) error {
	*dst = splitAndTrim(v)
	return nil
}
