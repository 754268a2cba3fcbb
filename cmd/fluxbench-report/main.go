// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Command fluxbench-report renders JSONL results written by fluxbench
// -json-out as a table.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/absmach/fluxbench/report"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("fluxbench-report", flag.ContinueOnError)
	fs.SetOutput(stderr)
	input := fs.String("input", "", "Path to JSONL results file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *input == "" {
		fmt.Fprintln(stderr, "-input is required")
		return 2
	}

	f, err := os.Open(*input)
	if err != nil {
		fmt.Fprintf(stderr, "failed to open %s: %v\n", *input, err)
		return 2
	}
	defer f.Close()

	results, err := report.ReadResults(f)
	if err != nil {
		fmt.Fprintf(stderr, "failed to read %s: %v\n", *input, err)
		return 2
	}
	if err := report.RenderTable(stdout, results); err != nil {
		fmt.Fprintf(stderr, "failed to render results: %v\n", err)
		return 1
	}
	return 0
}
