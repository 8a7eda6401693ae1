// Command kbai is the entry point for the knowledge-base assistant. It
// provides the ingestion and diagnostic CLI (via Cobra) and the HTTP chat API.
package main

import (
	"fmt"
	"os"

	"github.com/54b3r/kbai-go/cmd/kbai/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
