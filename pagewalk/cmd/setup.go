package cmd

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/sarchlab/pagewalk/config"
	"github.com/sarchlab/pagewalk/mem/vm"
	"github.com/sarchlab/pagewalk/tracing"
	"github.com/spf13/cobra"
)

// addSetupFlags adds the flags that describe the memory system. Flags that
// are not given fall back to the PAGEWALK_* variables.
func addSetupFlags(cmd *cobra.Command) {
	cmd.Flags().String("fixture", "",
		"Fixture file, or the built-in fixture sv32 or sv39")
	cmd.Flags().String("mode", "", "Addressing mode: sv32 or sv39")
	cmd.Flags().String("root", "", "PPN of the root page table")
	cmd.Flags().String("arena-size", "",
		"Size of the physical memory, such as 16M")
	cmd.Flags().String("superpage-check", "",
		"How superpages are checked: vpn or ppn")
}

// addTraceFlags adds the flags that select where walk events go.
func addTraceFlags(cmd *cobra.Command) {
	cmd.Flags().String("trace", "",
		"Trace destination: none, text, log, csv, json or sqlite")
	cmd.Flags().String("trace-path", "",
		"Trace file name without extension (default: a unique name)")
}

func applySetupFlags(cmd *cobra.Command, c config.Config) (config.Config, error) {
	var err error

	if s, _ := cmd.Flags().GetString("mode"); s != "" {
		if c.Mode, err = vm.ParseMode(s); err != nil {
			return c, err
		}
	}

	if s, _ := cmd.Flags().GetString("root"); s != "" {
		if c.RootPPN, err = strconv.ParseUint(s, 0, 64); err != nil {
			return c, fmt.Errorf("root: %w", err)
		}
	}

	if s, _ := cmd.Flags().GetString("arena-size"); s != "" {
		if c.ArenaSize, err = config.ParseSize(s); err != nil {
			return c, err
		}
	}

	if s, _ := cmd.Flags().GetString("superpage-check"); s != "" {
		if c.SuperpageCheck, err = vm.ParseSuperpageCheck(s); err != nil {
			return c, err
		}
	}

	if cmd.Flags().Lookup("trace") != nil {
		if s, _ := cmd.Flags().GetString("trace"); s != "" {
			if c.Trace, err = config.ParseTraceKind(s); err != nil {
				return c, err
			}
		}

		if s, _ := cmd.Flags().GetString("trace-path"); s != "" {
			c.TracePath = s
		}
	}

	return c, nil
}

// setupMemorySystem builds the memory system the flags, the environment and
// the fixture describe. Fixture settings win over the others.
func setupMemorySystem(
	cmd *cobra.Command,
) (*vm.MemorySystem, *config.Fixture, config.Config, error) {
	c, err := applySetupFlags(cmd, cfg)
	if err != nil {
		return nil, nil, c, err
	}

	var fixture *config.Fixture

	if path, _ := cmd.Flags().GetString("fixture"); path != "" {
		fixture, err = config.LoadFixture(path)
		if err != nil {
			return nil, nil, c, err
		}

		if c, err = fixture.Apply(c); err != nil {
			return nil, nil, c, err
		}
	}

	memSys, _, err := config.Setup(c, fixture)
	if err != nil {
		return nil, nil, c, err
	}

	slog.Debug("memory system ready",
		"mode", memSys.Mode(),
		"root_ppn", fmt.Sprintf("%#x", memSys.RootPPN()),
		"arena_size", memSys.Storage().Capacity(),
		"superpage_check", memSys.SuperpageCheck())

	return memSys, fixture, c, nil
}

// attachTraceWriters adds the hooks that persist or log walk events.
// TraceText and TraceNone need no hook.
func attachTraceWriters(recorder *tracing.Recorder, c config.Config) {
	switch c.Trace {
	case config.TraceLog:
		recorder.AcceptHook(
			tracing.NewLogHook(slog.Default()).WithLevel(slog.LevelInfo))
	case config.TraceCSV:
		w := tracing.NewCSVTraceWriter(c.TracePath)
		w.Init()
		recorder.AcceptHook(w)
		slog.Info("tracing to CSV", "path", w.Path())
	case config.TraceJSON:
		recorder.AcceptHook(tracing.NewJSONTraceFile(c.TracePath))
	case config.TraceSQLite:
		w := tracing.NewSQLiteTraceWriter(c.TracePath)
		w.Init()
		recorder.AcceptHook(w)
	}
}
