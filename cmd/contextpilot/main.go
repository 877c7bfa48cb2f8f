package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/contextpilot/contextpilot/internal/cli"
)

func init() {
	godotenv.Load()
}

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
