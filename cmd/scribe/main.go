// Command scribe operates a project's engineering activity ledger:
// rotating log files and verifying their integrity outside of the
// RPC tool surface that normally drives the core package.
package main

import (
	"fmt"
	"os"

	"github.com/paxocial/scribe-mcp-sub000/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
