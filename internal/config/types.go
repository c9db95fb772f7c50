// Package config loads the prestic configuration file: service settings
// plus the ordered profile blocks.
package config

import (
	"time"

	"prestic/internal/profile"
	logx "prestic/pkg/logx"
)

// Config is one parsed configuration document.
type Config struct {
	Settings Settings
	// Profiles preserves declaration order from the file.
	Profiles []profile.Block
}

// Store builds a profile store from the parsed blocks.
func (c *Config) Store() (*profile.Store, error) {
	return profile.NewStore(c.Profiles)
}

// Settings is the reserved top-level "settings" section. Everything in it
// has a usable zero value so a config file with only profiles is valid.
type Settings struct {
	Logging LoggingSettings  `yaml:"logging"`
	Service ServiceSettings  `yaml:"service"`
	Notify  *NotifySettings  `yaml:"notify,omitempty"`
	Storage *StorageSettings `yaml:"storage,omitempty"`
}

type LoggingSettings struct {
	Level string `yaml:"level"`
	// Console is a pointer so "omitted" defaults to true.
	Console *bool           `yaml:"console,omitempty"`
	File    FileLogSettings `yaml:"file"`
}

type FileLogSettings struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Logx maps the section onto the logging service config.
func (l LoggingSettings) Logx() logx.Config {
	console := true
	if l.Console != nil {
		console = *l.Console
	}
	return logx.Config{
		Level:   l.Level,
		Console: console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
	}
}

type ServiceSettings struct {
	// Tick is the scheduler poll interval, a Go duration string.
	Tick     string `yaml:"tick"`
	Timezone string `yaml:"timezone"`
	// RunLogDir, when set, receives one log file per execution.
	RunLogDir string `yaml:"run_log_dir"`
}

const defaultTick = time.Minute

func (s ServiceSettings) TickDuration() (time.Duration, error) {
	return ParseDurationOrDefault("settings.service.tick", s.Tick, defaultTick)
}

// Location resolves the configured timezone; empty means local time.
func (s ServiceSettings) Location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.Local, nil
	}
	return time.LoadLocation(s.Timezone)
}

// NotifySettings controls the async notification pipeline. A nil section
// disables it.
//
// All durations are Go duration strings.
type NotifySettings struct {
	Enabled     bool   `yaml:"enabled"`
	Workers     int    `yaml:"workers"`
	QueueSize   int    `yaml:"queue_size"`
	RatePerSec  int    `yaml:"rate_per_sec"`
	DedupWindow string `yaml:"dedup_window"`
	// OnSuccess also notifies successful runs, not only failures.
	OnSuccess bool              `yaml:"on_success"`
	Telegram  *TelegramSettings `yaml:"telegram,omitempty"`
}

type TelegramSettings struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

// StorageSettings selects the run-state persistence driver. A nil section
// means in-memory only.
type StorageSettings struct {
	// Driver is "file" or "sqlite".
	Driver      string `yaml:"driver"`
	Path        string `yaml:"path"`
	BusyTimeout string `yaml:"busy_timeout"`
}
