// Command revstore manages a branch-aware terminology revision store.
package main

import (
	"os"

	"github.com/kilupskalvis/revstore/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
