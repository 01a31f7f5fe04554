package config

// Config is the on-disk configuration (YAML or JSON).
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
// Times of day are "HH:MM" 24-hour strings.
type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Quotas maps action names to per-tier ceilings. Omitted tiers are
	// unbounded; an omitted map falls back to built-in defaults.
	Quotas map[string]QuotaConfig `json:"quotas,omitempty"`

	Notifications NotificationsConfig `json:"notifications"`

	History  *HistoryConfig  `json:"history,omitempty"`
	Cache    *CacheConfig    `json:"cache,omitempty"`
	Delivery *DeliveryConfig `json:"delivery,omitempty"`

	Housekeeping HousekeepingConfig `json:"housekeeping,omitempty"`
}

type LoggingConfig struct {
	Level   string     `json:"level,omitempty"`
	Console bool       `json:"console"`
	File    FileConfig `json:"file,omitempty"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

type QuotaConfig struct {
	Minutely int `json:"minutely,omitempty"`
	Hourly   int `json:"hourly,omitempty"`
	Daily    int `json:"daily,omitempty"`
	Weekly   int `json:"weekly,omitempty"`
}

// NotificationsConfig carries user preferences plus scheduler tuning.
type NotificationsConfig struct {
	PushEnabled *bool `json:"push_enabled,omitempty"`

	// EnabledTypes overrides per-type delivery; missing types default to true.
	EnabledTypes map[string]bool `json:"enabled_types,omitempty"`

	MaxPerHour int `json:"max_per_hour,omitempty"`

	QuietHours QuietHoursConfig `json:"quiet_hours,omitempty"`

	BatchWindow    string   `json:"batch_window,omitempty"`
	GroupableTypes []string `json:"groupable_types,omitempty"`
}

type QuietHoursConfig struct {
	Enabled bool   `json:"enabled"`
	Start   string `json:"start,omitempty"` // "HH:MM"
	End     string `json:"end,omitempty"`   // "HH:MM"
}

// HistoryConfig controls the notification history store.
//
// Example:
//
//	"history": { "driver": "sqlite", "path": "./pulsesync.db" }
type HistoryConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
	MaxEntries  int    `json:"max_entries,omitempty"`  // memory
}

type CacheConfig struct {
	Backend    string `json:"backend,omitempty"`
	RedisURL   string `json:"redis_url,omitempty"`
	Prefix     string `json:"prefix,omitempty"`
	DefaultTTL string `json:"default_ttl,omitempty"`
}

type DeliveryConfig struct {
	Driver string `json:"driver,omitempty"`

	Telegram TelegramConfig `json:"telegram,omitempty"`

	Workers       int    `json:"workers,omitempty"`
	QueueSize     int    `json:"queue_size,omitempty"`
	RatePerSec    int    `json:"rate_per_sec,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

type TelegramConfig struct {
	Token  string `json:"token,omitempty"`
	ChatID int64  `json:"chat_id,omitempty"`
}

// HousekeepingConfig drives the periodic maintenance job.
type HousekeepingConfig struct {
	// PruneSchedule is a cron spec. Empty means "*/5 * * * *".
	PruneSchedule string `json:"prune_schedule,omitempty"`

	// HistoryMaxAge prunes history entries older than this. Empty disables.
	HistoryMaxAge string `json:"history_max_age,omitempty"`
}
