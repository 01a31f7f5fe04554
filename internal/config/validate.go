package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Validate rejects configs that would misconfigure a running service. It is
// also installed as the Watch() validator so bad edits never get published.
func (c *Config) Validate() error {
	for name, q := range c.Quotas {
		for tierName, v := range map[string]int{
			"minutely": q.Minutely, "hourly": q.Hourly, "daily": q.Daily, "weekly": q.Weekly,
		} {
			if v < 0 {
				return fmt.Errorf("quotas.%s.%s: must be >= 0", name, tierName)
			}
		}
	}

	if c.Notifications.MaxPerHour < 0 {
		return fmt.Errorf("notifications.max_per_hour: must be >= 0")
	}
	if qh := c.Notifications.QuietHours; qh.Enabled {
		if _, _, err := ParseHHMM(qh.Start); err != nil {
			return fmt.Errorf("notifications.quiet_hours.start: %w", err)
		}
		if _, _, err := ParseHHMM(qh.End); err != nil {
			return fmt.Errorf("notifications.quiet_hours.end: %w", err)
		}
	}
	if _, err := ParseDurationOrDefault("notifications.batch_window", c.Notifications.BatchWindow, 0); err != nil {
		return err
	}

	if d := c.Delivery; d != nil {
		if _, err := ParseDurationOrDefault("delivery.retry_base", d.RetryBase, 0); err != nil {
			return err
		}
		if _, err := ParseDurationOrDefault("delivery.retry_max_delay", d.RetryMaxDelay, 0); err != nil {
			return err
		}
		if strings.EqualFold(d.Driver, "telegram") && strings.TrimSpace(d.Telegram.Token) == "" {
			return fmt.Errorf("delivery.telegram.token: required for the telegram driver")
		}
	}

	if h := c.History; h != nil {
		if _, err := ParseDurationOrDefault("history.busy_timeout", h.BusyTimeout, 0); err != nil {
			return err
		}
	}
	if cc := c.Cache; cc != nil {
		if _, err := ParseDurationOrDefault("cache.default_ttl", cc.DefaultTTL, 0); err != nil {
			return err
		}
	}
	if _, err := ParseDurationOrDefault("housekeeping.history_max_age", c.Housekeeping.HistoryMaxAge, 0); err != nil {
		return err
	}
	return nil
}

// ParseHHMM parses a 24-hour "HH:MM" time of day.
func ParseHHMM(raw string) (hour, minute int, err error) {
	parts := strings.SplitN(strings.TrimSpace(raw), ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, want HH:MM", raw)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", raw)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", raw)
	}
	return h, m, nil
}

// ParseDurationField parses a required Go duration string.
func ParseDurationField(path, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", path, raw)
	}
	return d, nil
}

// ParseDurationOrDefault parses an optional duration, returning def when the
// field is empty.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	return ParseDurationField(path, raw)
}
