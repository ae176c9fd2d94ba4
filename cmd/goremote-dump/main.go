// Package main is the entry point for goremote-dump.
package main

import (
	"os"
)

func main() {
	os.Exit(exitCode(Execute()))
}
