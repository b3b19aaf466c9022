// Package main is the entry point for bqm2-engine, a template-driven
// warehouse table builder: it expands descriptor files in one or more
// folders into dependency-ordered warehouse resources and either shows,
// dumps, or executes them.
package main

import (
	"fmt"
	"os"

	"github.com/dataforge/bqm2-engine/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
