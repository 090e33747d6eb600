package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/mnemo-labs/mnemo/internal/cli"
)

func main() {
	// Optional .env for local development; ignored when absent.
	_ = godotenv.Load()

	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
