// Package config loads the settings of the pagewalk tools from the
// environment and from fixture files that describe page-table content.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sarchlab/pagewalk/mem/vm"
)

// TraceKind selects where the events of a walk go.
type TraceKind string

// The supported trace destinations.
const (
	TraceNone   TraceKind = "none"
	TraceText   TraceKind = "text"
	TraceLog    TraceKind = "log"
	TraceCSV    TraceKind = "csv"
	TraceJSON   TraceKind = "json"
	TraceSQLite TraceKind = "sqlite"
)

// ParseTraceKind parses a trace destination name.
func ParseTraceKind(s string) (TraceKind, error) {
	k := TraceKind(strings.ToLower(strings.TrimSpace(s)))

	switch k {
	case "":
		return TraceNone, nil
	case TraceNone, TraceText, TraceLog, TraceCSV, TraceJSON, TraceSQLite:
		return k, nil
	default:
		return "", fmt.Errorf("unknown trace kind %q", s)
	}
}

// The environment variables Load reads.
const (
	EnvArenaSize      = "PAGEWALK_ARENA_SIZE"
	EnvMode           = "PAGEWALK_MODE"
	EnvRootPPN        = "PAGEWALK_ROOT_PPN"
	EnvSuperpageCheck = "PAGEWALK_SUPERPAGE_CHECK"
	EnvTrace          = "PAGEWALK_TRACE"
	EnvTracePath      = "PAGEWALK_TRACE_PATH"
	EnvMonitorPort    = "PAGEWALK_MONITOR_PORT"
	EnvLogLevel       = "PAGEWALK_LOG_LEVEL"
)

// DefaultEnvFile is the file Load reads when no file is named.
const DefaultEnvFile = ".env"

// Config holds the settings shared by the commands.
type Config struct {
	ArenaSize      uint64
	Mode           vm.Mode
	RootPPN        uint64
	SuperpageCheck vm.SuperpageCheck
	Trace          TraceKind
	TracePath      string
	MonitorPort    int
	LogLevel       slog.Level
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		ArenaSize:      vm.DefaultCapacity,
		Mode:           vm.Sv39,
		RootPPN:        1,
		SuperpageCheck: vm.CheckVPN,
		Trace:          TraceNone,
		MonitorPort:    0,
		LogLevel:       slog.LevelInfo,
	}
}

// Load reads the given env files into the process environment and returns the
// resulting configuration. Variables that are already set win over the files.
// Without files, DefaultEnvFile is read if it exists.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		if _, err := os.Stat(DefaultEnvFile); err == nil {
			envFiles = []string{DefaultEnvFile}
		}
	}

	if len(envFiles) > 0 {
		if err := godotenv.Load(envFiles...); err != nil {
			return Config{}, fmt.Errorf("loading env files: %w", err)
		}
	}

	return FromEnv()
}

// FromEnv builds the configuration from the PAGEWALK_* variables on top of
// Default.
func FromEnv() (Config, error) {
	c := Default()

	var errs []error

	if s, ok := lookup(EnvArenaSize); ok {
		v, err := ParseSize(s)
		errs = append(errs, wrapEnv(EnvArenaSize, err))
		c.ArenaSize = v
	}

	if s, ok := lookup(EnvMode); ok {
		v, err := vm.ParseMode(s)
		errs = append(errs, wrapEnv(EnvMode, err))
		c.Mode = v
	}

	if s, ok := lookup(EnvRootPPN); ok {
		v, err := strconv.ParseUint(s, 0, 64)
		errs = append(errs, wrapEnv(EnvRootPPN, err))
		c.RootPPN = v
	}

	if s, ok := lookup(EnvSuperpageCheck); ok {
		v, err := vm.ParseSuperpageCheck(s)
		errs = append(errs, wrapEnv(EnvSuperpageCheck, err))
		c.SuperpageCheck = v
	}

	if s, ok := lookup(EnvTrace); ok {
		v, err := ParseTraceKind(s)
		errs = append(errs, wrapEnv(EnvTrace, err))
		c.Trace = v
	}

	if s, ok := lookup(EnvTracePath); ok {
		c.TracePath = s
	}

	if s, ok := lookup(EnvMonitorPort); ok {
		v, err := strconv.Atoi(s)
		errs = append(errs, wrapEnv(EnvMonitorPort, err))
		c.MonitorPort = v
	}

	if s, ok := lookup(EnvLogLevel); ok {
		errs = append(errs, wrapEnv(EnvLogLevel, c.LogLevel.UnmarshalText([]byte(s))))
	}

	if err := errors.Join(errs...); err != nil {
		return Config{}, err
	}

	return c, c.Validate()
}

// Validate checks that the settings can build a memory system.
func (c Config) Validate() error {
	if err := c.Mode.Validate(); err != nil {
		return err
	}

	if c.ArenaSize == 0 {
		return errors.New("arena size must not be zero")
	}

	if c.MonitorPort < 0 || c.MonitorPort > 65535 {
		return fmt.Errorf("invalid monitor port %d", c.MonitorPort)
	}

	return nil
}

// ParseSize parses a byte count such as "16777216", "0x1000000", "64K" or
// "16M".
func ParseSize(s string) (uint64, error) {
	s = strings.ToUpper(strings.TrimSpace(s))

	unit := uint64(1)

	if !strings.HasPrefix(s, "0X") {
		s = strings.TrimSuffix(s, "IB")
		s = strings.TrimSuffix(s, "B")

		switch {
		case strings.HasSuffix(s, "K"):
			unit = 1 << 10
		case strings.HasSuffix(s, "M"):
			unit = 1 << 20
		case strings.HasSuffix(s, "G"):
			unit = 1 << 30
		}

		if unit > 1 {
			s = s[:len(s)-1]
		}
	}

	v, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, err
	}

	if v > ^uint64(0)/unit {
		return 0, fmt.Errorf("size %s overflows", s)
	}

	return v * unit, nil
}

func lookup(name string) (string, bool) {
	s, ok := os.LookupEnv(name)
	if !ok || strings.TrimSpace(s) == "" {
		return "", false
	}

	return strings.TrimSpace(s), true
}

func wrapEnv(name string, err error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}
