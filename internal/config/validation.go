package config

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// ValidationErrors collects all validation problems so they can be reported
// together.
type ValidationErrors struct {
	Problems []string
}

// HasErrors returns true if any validation errors exist
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Problems) > 0
}

func (e *ValidationErrors) add(format string, args ...any) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

// Error formats all validation errors into a clear message
func (e *ValidationErrors) Error() string {
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, p := range e.Problems {
		sb.WriteString(fmt.Sprintf("  - %s\n", p))
	}
	return sb.String()
}

var validPriorities = map[string]bool{
	"min": true, "low": true, "default": true, "high": true, "urgent": true,
}

func (c *Config) Validate() error {
	errs := &ValidationErrors{}

	if port, err := strconv.Atoi(c.Server.Port); err != nil || port < 1 || port > 65535 {
		errs.add("server.port: %q is not a valid port", c.Server.Port)
	}
	if c.Server.QueueSize < 1 {
		errs.add("server.queue_size must be >= 1")
	}

	if c.Upstream.Enabled {
		validateURL(errs, "upstream.base_url", c.Upstream.BaseURL)
		if len(c.Upstream.Topics) == 0 {
			errs.add("upstream.topics must not be empty")
		}
	}
	validatePositive(errs, "upstream.reconnect_delay", c.Upstream.ReconnectDelay)
	validatePositive(errs, "upstream.handshake_retry_delay", c.Upstream.HandshakeRetryDelay)
	if c.Upstream.ReadTimeout < 0 {
		errs.add("upstream.read_timeout must not be negative")
	}

	if c.Bootstrap.Enabled {
		validateURL(errs, "bootstrap.base_url", c.Bootstrap.BaseURL)
		if len(c.Bootstrap.Topics) == 0 {
			errs.add("bootstrap.topics must not be empty")
		}
	}
	if c.Bootstrap.Workers < 1 {
		errs.add("bootstrap.workers must be >= 1")
	}
	if c.Bootstrap.RatePerSec < 1 {
		errs.add("bootstrap.rate_per_second must be >= 1")
	}
	if c.Bootstrap.RetryCount < 0 {
		errs.add("bootstrap.retry_count must not be negative")
	}

	if c.Broadcast.RecentCapacity < 1 {
		errs.add("broadcast.recent_capacity must be >= 1")
	}
	if c.Broadcast.SendBuffer < 1 {
		errs.add("broadcast.send_buffer must be >= 1")
	}
	validatePositive(errs, "broadcast.keep_alive", c.Broadcast.KeepAlive)

	validatePositive(errs, "simulation.interval", c.Simulation.Interval)

	if c.Notify.Enabled {
		if c.Notify.Topic == "" {
			errs.add("notify.topic is required when notify.enabled is true")
		}
		if !validPriorities[c.Notify.Priority] {
			errs.add("notify.priority: invalid %q (valid: min, low, default, high, urgent)", c.Notify.Priority)
		}
		validateURL(errs, "notify.server", c.Notify.Server)
		validatePositive(errs, "notify.outage_after", c.Notify.OutageAfter)
	}

	if c.Logging.Level != "" {
		var level zapcore.Level
		if err := level.UnmarshalText([]byte(c.Logging.Level)); err != nil {
			errs.add("logging.level: %v", err)
		}
	}

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateURL(errs *ValidationErrors, key, raw string) {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		errs.add("%s: %q must be an absolute http(s) URL", key, raw)
	}
}

func validatePositive(errs *ValidationErrors, key string, d time.Duration) {
	if d <= 0 {
		errs.add("%s must be positive", key)
	}
}
