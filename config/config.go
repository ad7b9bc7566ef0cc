// Package config holds the options of a weak reference runtime and loads them
// from TOML files and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/sarchlab/weakref/idgen"
	"github.com/sarchlab/weakref/logging"
)

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("config: invalid options")

// Options configures a runtime.
type Options struct {
	// PurgeInterval is the time between two scheduled sweeps.
	PurgeInterval time.Duration
	// StartPurging enables the scheduler when the runtime is created.
	StartPurging bool
	// LivenessOffset is the number of transient bindings the host liveness
	// includes while measuring.
	LivenessOffset int
	// OwnerSlack is the same allowance for the analyzer ownership test.
	OwnerSlack int
	// IDMode selects the ID generator: sequential or parallel.
	IDMode string
	// LogLevel is the zerolog level name.
	LogLevel string
	// RecordPath enables event recording into RecordPath.sqlite3 when set.
	RecordPath string
	// MonitorPort is the port of the monitor; below 1000 picks a random port.
	MonitorPort int
}

// Default returns the options used when nothing is configured.
func Default() Options {
	return Options{
		PurgeInterval: 5 * time.Second,
		StartPurging:  true,
		IDMode:        idgen.ModeSequential,
		LogLevel:      "info",
	}
}

// Validate checks the options.
func (o Options) Validate() error {
	var errs []error

	if o.PurgeInterval <= 0 {
		errs = append(errs, fmt.Errorf("purge interval %s is not positive", o.PurgeInterval))
	}

	if o.LivenessOffset < 0 {
		errs = append(errs, fmt.Errorf("liveness offset %d is negative", o.LivenessOffset))
	}

	if o.OwnerSlack < 0 {
		errs = append(errs, fmt.Errorf("owner slack %d is negative", o.OwnerSlack))
	}

	if _, err := idgen.New(o.IDMode); err != nil {
		errs = append(errs, err)
	}

	if o.MonitorPort < 0 || o.MonitorPort > 65535 {
		errs = append(errs, fmt.Errorf("monitor port %d out of range", o.MonitorPort))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}

	return nil
}

type fileConfig struct {
	PurgeInterval  string `toml:"purge_interval"`
	StartPurging   bool   `toml:"start_purging"`
	LivenessOffset int    `toml:"liveness_offset"`
	OwnerSlack     int    `toml:"owner_slack"`
	IDMode         string `toml:"id_mode"`
	LogLevel       string `toml:"log_level"`
	RecordPath     string `toml:"record_path"`
	MonitorPort    int    `toml:"monitor_port"`
}

// LoadFile overlays the keys defined in a TOML file on base.
func LoadFile(path string, base Options) (Options, error) {
	var raw fileConfig

	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Options{}, fmt.Errorf("config: load %s: %w", path, err)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Options{}, fmt.Errorf("config: unknown key %s in %s", undecoded[0], path)
	}

	cfg := base

	if meta.IsDefined("purge_interval") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.PurgeInterval))
		if err != nil {
			return Options{}, fmt.Errorf("config: parse purge_interval: %w", err)
		}

		cfg.PurgeInterval = d
	}

	if meta.IsDefined("start_purging") {
		cfg.StartPurging = raw.StartPurging
	}

	if meta.IsDefined("liveness_offset") {
		cfg.LivenessOffset = raw.LivenessOffset
	}

	if meta.IsDefined("owner_slack") {
		cfg.OwnerSlack = raw.OwnerSlack
	}

	if meta.IsDefined("id_mode") {
		cfg.IDMode = strings.TrimSpace(raw.IDMode)
	}

	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	if meta.IsDefined("record_path") {
		cfg.RecordPath = strings.TrimSpace(raw.RecordPath)
	}

	if meta.IsDefined("monitor_port") {
		cfg.MonitorPort = raw.MonitorPort
	}

	return cfg, nil
}

// Environment variables read by FromEnv.
const (
	EnvPurgeInterval  = "WEAKREF_PURGE_INTERVAL"
	EnvStartPurging   = "WEAKREF_START_PURGING"
	EnvLivenessOffset = "WEAKREF_LIVENESS_OFFSET"
	EnvOwnerSlack     = "WEAKREF_OWNER_SLACK"
	EnvIDMode         = "WEAKREF_ID_MODE"
	EnvRecordPath     = "WEAKREF_RECORD_PATH"
	EnvMonitorPort    = "WEAKREF_MONITOR_PORT"
)

// FromEnv overlays the WEAKREF_* environment variables on base. The given
// dotenv files are loaded first if they exist; variables already set in the
// environment win over them.
func FromEnv(base Options, dotenvFiles ...string) (Options, error) {
	for _, f := range dotenvFiles {
		if _, err := os.Stat(f); err != nil {
			continue
		}

		if err := godotenv.Load(f); err != nil {
			return Options{}, fmt.Errorf("config: load %s: %w", f, err)
		}
	}

	cfg := base

	if v, ok := lookup(EnvPurgeInterval); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Options{}, fmt.Errorf("config: parse %s: %w", EnvPurgeInterval, err)
		}

		cfg.PurgeInterval = d
	}

	if v, ok := lookup(EnvStartPurging); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return Options{}, fmt.Errorf("config: parse %s: %w", EnvStartPurging, err)
		}

		cfg.StartPurging = b
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{EnvLivenessOffset, &cfg.LivenessOffset},
		{EnvOwnerSlack, &cfg.OwnerSlack},
		{EnvMonitorPort, &cfg.MonitorPort},
	}
	for _, e := range ints {
		v, ok := lookup(e.name)
		if !ok {
			continue
		}

		n, err := strconv.Atoi(v)
		if err != nil {
			return Options{}, fmt.Errorf("config: parse %s: %w", e.name, err)
		}

		*e.dst = n
	}

	if v, ok := lookup(EnvIDMode); ok {
		cfg.IDMode = v
	}

	if v, ok := lookup(logging.LevelEnv); ok {
		cfg.LogLevel = v
	}

	if v, ok := lookup(EnvRecordPath); ok {
		cfg.RecordPath = v
	}

	return cfg, nil
}

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return "", false
	}

	v = strings.TrimSpace(v)

	return v, v != ""
}
