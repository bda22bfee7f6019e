package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/lucasnoah/mailgate/internal/cli"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	// A .env file is optional; MAILGATE_* variables may come from the shell.
	_ = godotenv.Load()

	cli.SetVersion(Version)
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
