package config

type Config struct {
	Server  ServerConfig  `json:"server"`
	Logging LoggingConfig `json:"logging"`

	// Timezone is the IANA zone the dispenser schedules run in (e.g. "Asia/Manila").
	// It can be changed at runtime via the API; this value only seeds startup.
	Timezone string `json:"timezone,omitempty"`

	Engine      EngineConfig      `json:"engine,omitempty"`
	Storage     StorageConfig     `json:"storage"`
	Pushbullet  PushbulletConfig  `json:"pushbullet,omitempty"`
	Maintenance MaintenanceConfig `json:"maintenance,omitempty"`
}

type ServerConfig struct {
	Addr string `json:"addr,omitempty"` // default: ":8000"

	// Server timeouts (Go duration strings).
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string            `json:"level,omitempty"`
	Console bool              `json:"console"`
	File    FileLogConfig     `json:"file,omitempty"`
	Alerts  AlertLogConfig    `json:"alerts,omitempty"`
}

type FileLogConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// AlertLogConfig forwards WARN+ log lines to the push notification channel so
// operators hear about missed doses without watching the console.
type AlertLogConfig struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level,omitempty"`    // default: "warn"
	RatePerMin int    `json:"rate_per_min,omitempty"` // default: 6
}

// EngineConfig controls the tick engine cadences.
//
// All durations are Go duration strings (e.g. "1s", "10s").
// Defaults (when fields are omitted/zero):
//   - tick_interval: "1s"
//   - backoff_interval: "10s" (while configuration/backend are not ready)
//   - command_timeout: "10s" (outbound command + notification calls)
type EngineConfig struct {
	TickInterval    string `json:"tick_interval,omitempty"`
	BackoffInterval string `json:"backoff_interval,omitempty"`
	CommandTimeout  string `json:"command_timeout,omitempty"`
}

// StorageConfig controls the sqlite persistence layer.
//
// Example:
//
//	"storage": { "dir": "./data", "busy_timeout": "10s" }
type StorageConfig struct {
	Dir         string `json:"dir"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string
}

type PushbulletConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token,omitempty"`
}

// MaintenanceConfig controls the daily housekeeping jobs.
type MaintenanceConfig struct {
	Enabled              bool   `json:"enabled"`
	At                   string `json:"at,omitempty"`                     // "HH:MM", default "03:00"
	HistoryRetentionDays int    `json:"history_retention_days,omitempty"` // default 90
	RegistryStaleDays    int    `json:"registry_stale_days,omitempty"`    // default 90
}
