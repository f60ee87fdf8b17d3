package cmd

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/sarchlab/pagewalk/mem/vm"
	"github.com/spf13/cobra"
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "List the mappings or the entries of a page table.",
	Long: "`dump --fixture sv39` lists every leaf mapping reachable from the " +
		"root. `dump --table 0x3` lists the valid entries of the table at " +
		"that PPN instead.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		memSys, _, _, err := setupMemorySystem(cmd)
		if err != nil {
			return err
		}

		if s, _ := cmd.Flags().GetString("table"); s != "" {
			ppn, err := strconv.ParseUint(s, 0, 64)
			if err != nil {
				return fmt.Errorf("table: %w", err)
			}

			return dumpTable(cmd.OutOrStdout(), memSys, ppn)
		}

		return dumpMappings(cmd.OutOrStdout(), memSys)
	},
}

func init() {
	rootCmd.AddCommand(dumpCmd)
	addSetupFlags(dumpCmd)
	dumpCmd.Flags().String("table", "", "PPN of the page table to list")
}

func dumpMappings(w io.Writer, memSys *vm.MemorySystem) error {
	mappings, err := memSys.Mappings()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "VA\tLEVEL\tSIZE\tPA\tFLAGS")

	for _, m := range mappings {
		pAddr, err := m.PTE.PageAddr()
		if err != nil {
			return err
		}

		fmt.Fprintf(tw, "%#x\t%d\t%#x\t%#x\t%s\n",
			m.VAddr, m.Level, m.Size, pAddr, m.PTE.Flags)
	}

	return tw.Flush()
}

func dumpTable(w io.Writer, memSys *vm.MemorySystem, ppn uint64) error {
	t, err := memSys.Table(ppn)
	if err != nil {
		return err
	}

	entries, err := t.ValidEntries()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintf(tw, "table %#x (%d entries at %#x)\n", ppn, t.Len(), t.Base())
	fmt.Fprintln(tw, "INDEX\tADDR\tPPN\tFLAGS\tKIND")

	for _, e := range entries {
		addr, _ := t.EntryAddr(e.Index)

		kind := "pointer"
		if e.PTE.IsLeaf() {
			kind = "leaf"
		}

		fmt.Fprintf(tw, "%#x\t%#x\t%#x\t%s\t%s\n",
			e.Index, addr, e.PTE.PPN, e.PTE.Flags, kind)
	}

	return tw.Flush()
}
