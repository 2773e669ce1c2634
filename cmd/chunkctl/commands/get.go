package commands

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var getOutput string

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Read a chunk",
	Long: `Read the chunk stored under a key and write its payload to stdout
or to a file. Keys are decimal or 0x-prefixed hex.

Examples:
  chunkctl -s world.save get 0x12ab34cd -o chunk.bin
  chunkctl -s world.save get 1234 > chunk.bin`,
	Args: cobra.ExactArgs(1),
	RunE: runGet,
}

func init() {
	getCmd.Flags().StringVarP(&getOutput, "output", "o", "", "write payload to this file instead of stdout")
}

func runGet(cmd *cobra.Command, args []string) error {
	key, err := parseKey(args[0])
	if err != nil {
		return err
	}

	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	size, err := s.Get(key, nil)
	if err != nil {
		return err
	}
	buf := make([]byte, size)
	if _, err := s.Get(key, buf); err != nil {
		return err
	}

	if getOutput != "" {
		return os.WriteFile(getOutput, buf, 0644)
	}
	_, err = os.Stdout.Write(buf)
	return err
}

var setCmd = &cobra.Command{
	Use:   "set <key> [file]",
	Short: "Write a chunk",
	Long: `Store the contents of a file (or stdin) under a key, superseding
any previous version.

Examples:
  chunkctl -s world.save set 0x12ab34cd chunk.bin
  cat chunk.bin | chunkctl -s world.save set 1234`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSet,
}

func runSet(cmd *cobra.Command, args []string) error {
	key, err := parseKey(args[0])
	if err != nil {
		return err
	}

	var data []byte
	if len(args) == 2 {
		data, err = os.ReadFile(args[1])
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return err
	}

	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Set(key, data); err != nil {
		return err
	}
	fmt.Printf("Stored %d bytes under key %#x.\n", len(data), key)
	return nil
}

var delCmd = &cobra.Command{
	Use:   "del <key>",
	Short: "Delete a chunk",
	Long: `Append a tombstone for a key, removing it from the store.

Examples:
  chunkctl -s world.save del 0x12ab34cd`,
	Args: cobra.ExactArgs(1),
	RunE: runDel,
}

func runDel(cmd *cobra.Command, args []string) error {
	key, err := parseKey(args[0])
	if err != nil {
		return err
	}

	s, err := openStore()
	if err != nil {
		return err
	}
	defer s.Close()

	if err := s.Delete(key); err != nil {
		return err
	}
	fmt.Printf("Deleted key %#x.\n", key)
	return nil
}
