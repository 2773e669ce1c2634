package commands

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/wispfire/chunkstore/internal/cli/output"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show occupancy statistics for a store",
	Long: `Show occupancy statistics for a store.

Opens the store (rebuilding the index by scanning the log) and prints the
live key count, useful and wasted payload bytes, the fragmentation ratio
driving auto-compaction, and the log file size.

Examples:
  chunkctl -s world.save info`,
	Args: cobra.NoArgs,
	RunE: runInfo,
}

func runInfo(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	st := s.Stats()
	return output.SimpleTable(os.Stdout, [][2]string{
		{"Path", s.Path()},
		{"Live keys", fmt.Sprintf("%d / %d", st.LiveKeys, st.TableSize)},
		{"Useful bytes", humanize.IBytes(st.UsefulBytes)},
		{"Wasted bytes", humanize.IBytes(st.WastedBytes)},
		{"Fragmentation", fmt.Sprintf("%.1f%%", st.Fragmentation*100)},
		{"File size", humanize.IBytes(uint64(st.FileSize))},
	})
}
