package commands

import (
	"fmt"
	"os"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/wispfire/chunkstore/internal/cli/output"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all live chunk keys",
	Long: `List all live chunk keys with their stored sizes.

Examples:
  chunkctl -s world.save list`,
	Args: cobra.NoArgs,
	RunE: runList,
}

func runList(cmd *cobra.Command, args []string) error {
	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	keys := s.Keys()
	if len(keys) == 0 {
		fmt.Println("No live chunks.")
		return nil
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	table := output.NewTableData("KEY", "SIZE")
	for _, key := range keys {
		size, err := s.Get(key, nil)
		if err != nil {
			return err
		}
		table.AddRow(fmt.Sprintf("%#016x", key), humanize.IBytes(uint64(size)))
	}
	return output.PrintTable(os.Stdout, table)
}
