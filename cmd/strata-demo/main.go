// Command strata-demo is a small runnable driver for the facade, lock
// manager, and sqlite adapter, useful for poking at the library without
// writing a consumer program.
package main

import (
	"fmt"
	"os"

	"github.com/redbco/strata/cmd/strata-demo/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
