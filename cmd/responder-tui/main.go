// Package main provides the operator console entry point for astra-responder
package main

import (
	"flag"
	"fmt"
	"os"

	"astra-responder/internal/tui"
)

var (
	version = "dev"
)

func main() {
	var (
		showVersion bool
		serverURL   string
		apiKey      string
		operator    string
	)

	flag.BoolVar(&showVersion, "version", false, "Show version and exit")
	flag.BoolVar(&showVersion, "v", false, "Show version and exit (shorthand)")
	flag.StringVar(&serverURL, "server", "http://localhost:8080", "Responder server URL")
	flag.StringVar(&serverURL, "s", "http://localhost:8080", "Responder server URL (shorthand)")
	flag.StringVar(&apiKey, "api-key", os.Getenv("RESPONDER_API_KEY"), "API key for an auth-enabled responder")
	flag.StringVar(&operator, "operator", os.Getenv("USER"), "Operator name recorded on approvals and rejections")
	flag.Parse()

	if showVersion {
		fmt.Printf("responder-tui %s\n", version)
		os.Exit(0)
	}

	fmt.Println("Starting responder console...")
	fmt.Printf("Connecting to: %s\n", serverURL)

	if err := tui.Run(serverURL, apiKey, operator); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
