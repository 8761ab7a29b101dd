package main

import (
	"os"

	"github.com/joho/godotenv"
)

func main() {
	// Loads .env for local development; a missing file is not an error.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
