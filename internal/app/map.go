package app

import (
	"pulsesync/internal/cache"
	"pulsesync/internal/config"
	"pulsesync/internal/delivery"
	"pulsesync/internal/history"
	"pulsesync/internal/notify"
	"pulsesync/internal/ratelimit"
	logx "pulsesync/pkg/logx"
)

// The map* helpers translate the on-disk config into per-component configs,
// applying defaults where sections are omitted.

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapQuotas(cfg *config.Config) map[ratelimit.Action]ratelimit.Quota {
	if len(cfg.Quotas) == 0 {
		return ratelimit.DefaultQuotas()
	}
	out := make(map[ratelimit.Action]ratelimit.Quota, len(cfg.Quotas))
	for name, q := range cfg.Quotas {
		out[ratelimit.Action(name)] = ratelimit.Quota{
			Minutely: q.Minutely,
			Hourly:   q.Hourly,
			Daily:    q.Daily,
			Weekly:   q.Weekly,
		}
	}
	return out
}

func mapPreferences(cfg *config.Config) (notify.Preferences, error) {
	n := cfg.Notifications

	prefs := notify.DefaultPreferences()
	if n.PushEnabled != nil {
		prefs.PushEnabled = *n.PushEnabled
	}
	if n.MaxPerHour > 0 {
		prefs.MaxPerHour = n.MaxPerHour
	}
	if len(n.EnabledTypes) > 0 {
		prefs.Enabled = make(map[notify.Type]bool, len(n.EnabledTypes))
		for name, enabled := range n.EnabledTypes {
			prefs.Enabled[notify.Type(name)] = enabled
		}
	}

	if n.QuietHours.Enabled {
		startH, startM, err := config.ParseHHMM(n.QuietHours.Start)
		if err != nil {
			return prefs, err
		}
		endH, endM, err := config.ParseHHMM(n.QuietHours.End)
		if err != nil {
			return prefs, err
		}
		prefs.QuietHoursEnabled = true
		prefs.QuietStart = notify.ClockTime{Hour: startH, Minute: startM}
		prefs.QuietEnd = notify.ClockTime{Hour: endH, Minute: endM}
	}
	return prefs, nil
}

func mapSchedulerConfig(cfg *config.Config) (notify.Config, error) {
	n := cfg.Notifications

	batchWindow, err := config.ParseDurationOrDefault("notifications.batch_window", n.BatchWindow, 0)
	if err != nil {
		return notify.Config{}, err
	}
	out := notify.Config{BatchWindow: batchWindow}
	for _, t := range n.GroupableTypes {
		out.GroupableTypes = append(out.GroupableTypes, notify.Type(t))
	}
	return out, nil
}

func mapHistoryConfig(cfg *config.Config) (history.Config, error) {
	h := cfg.History
	if h == nil {
		return history.Config{Driver: "memory"}, nil
	}
	busyTimeout, err := config.ParseDurationOrDefault("history.busy_timeout", h.BusyTimeout, 0)
	if err != nil {
		return history.Config{}, err
	}
	return history.Config{
		Driver:      h.Driver,
		Path:        h.Path,
		BusyTimeout: busyTimeout,
		MaxEntries:  h.MaxEntries,
	}, nil
}

func mapCacheConfig(cfg *config.Config) (cache.Config, error) {
	c := cfg.Cache
	if c == nil {
		return cache.Config{Backend: "memory"}, nil
	}
	ttl, err := config.ParseDurationOrDefault("cache.default_ttl", c.DefaultTTL, 0)
	if err != nil {
		return cache.Config{}, err
	}
	return cache.Config{
		Backend:    c.Backend,
		RedisURL:   c.RedisURL,
		Prefix:     c.Prefix,
		DefaultTTL: ttl,
	}, nil
}

func mapDeliveryConfig(cfg *config.Config) (delivery.Config, error) {
	d := cfg.Delivery
	if d == nil {
		return delivery.Config{Driver: "log"}, nil
	}
	retryBase, err := config.ParseDurationOrDefault("delivery.retry_base", d.RetryBase, 0)
	if err != nil {
		return delivery.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationOrDefault("delivery.retry_max_delay", d.RetryMaxDelay, 0)
	if err != nil {
		return delivery.Config{}, err
	}
	return delivery.Config{
		Driver: d.Driver,
		Telegram: delivery.TelegramConfig{
			Token:  d.Telegram.Token,
			ChatID: d.Telegram.ChatID,
		},
		Dispatcher: delivery.DispatcherConfig{
			Workers:       d.Workers,
			QueueSize:     d.QueueSize,
			RatePerSec:    d.RatePerSec,
			RetryMax:      d.RetryMax,
			RetryBase:     retryBase,
			RetryMaxDelay: retryMaxDelay,
		},
	}, nil
}
