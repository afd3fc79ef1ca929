// Package main provides the entry point for the lodestone server CLI.
package main

import (
	"os"

	"lodestone/cmd/lodestone/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
