package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	// Local development reads the backend address and account from .env if present.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
