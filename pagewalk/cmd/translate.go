package cmd

import (
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/sarchlab/pagewalk/config"
	"github.com/sarchlab/pagewalk/mem/vm"
	"github.com/sarchlab/pagewalk/tracing"
	"github.com/spf13/cobra"
)

var translateCmd = &cobra.Command{
	Use:   "translate [va...]",
	Short: "Translate virtual addresses.",
	Long: "`translate --fixture sv39 0x80004000` builds the page tables of " +
		"the fixture and prints the physical address or the fault of every " +
		"virtual address. Without addresses, the probes of the fixture are " +
		"translated.",
	RunE: func(cmd *cobra.Command, args []string) error {
		memSys, fixture, c, err := setupMemorySystem(cmd)
		if err != nil {
			return err
		}

		vAddrs, err := parseAddresses(args, fixture)
		if err != nil {
			return err
		}

		recorder := tracing.NewRecorder()
		attachTraceWriters(recorder, c)

		failOnFault, _ := cmd.Flags().GetBool("fail-on-fault")

		faults := translateAll(cmd.OutOrStdout(), memSys, recorder,
			vAddrs, c.Trace == config.TraceText)
		if faults > 0 && failOnFault {
			return fmt.Errorf("%d of %d translations faulted",
				faults, len(vAddrs))
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(translateCmd)
	addSetupFlags(translateCmd)
	addTraceFlags(translateCmd)
	translateCmd.Flags().Bool("fail-on-fault", false,
		"Exit with an error if any translation faults")
}

func parseAddresses(args []string, fixture *config.Fixture) ([]uint64, error) {
	var vAddrs []uint64

	for _, arg := range args {
		v, err := strconv.ParseUint(arg, 0, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", arg, err)
		}

		vAddrs = append(vAddrs, v)
	}

	if len(vAddrs) == 0 && fixture != nil {
		for _, p := range fixture.Probes {
			vAddrs = append(vAddrs, uint64(p))
		}
	}

	if len(vAddrs) == 0 {
		return nil, errors.New("no address to translate")
	}

	return vAddrs, nil
}

// translateAll prints one line per address and returns how many faulted.
func translateAll(
	w io.Writer,
	memSys *vm.MemorySystem,
	recorder *tracing.Recorder,
	vAddrs []uint64,
	printTrace bool,
) int {
	formatter := tracing.NewTextFormatter()
	faults := 0

	for _, vAddr := range vAddrs {
		pAddr, err := memSys.Translate(vAddr, recorder)

		var fault *vm.Fault

		switch {
		case err == nil:
			fmt.Fprintf(w, "%#x -> %#x\n", vAddr, pAddr)
		case errors.As(err, &fault):
			faults++
			fmt.Fprintf(w, "%#x -> fault: %s\n", vAddr, fault)
		default:
			faults++
			fmt.Fprintf(w, "%#x -> error: %s\n", vAddr, err)
		}

		if printTrace {
			_ = formatter.Write(w, recorder.Events())
		}
	}

	return faults
}
