package config

import (
	"fmt"
	"os"
)

// Exitf prints a formatted message to stderr and exits with code 1. The
// server and botmatch mains use it for config failures, before any logger
// prefix is in effect.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
