// chunkctl inspects and manipulates chunkstore log files from the command
// line: read/write/delete chunks, trigger compaction, and verify integrity.
package main

import (
	"os"

	"github.com/wispfire/chunkstore/cmd/chunkctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
