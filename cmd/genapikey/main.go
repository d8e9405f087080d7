package main

import (
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/harrylevesque/equipscan/internal/auth"
	"github.com/harrylevesque/equipscan/internal/config"
)

// Prints a new API token once and the auth.tokens entry to paste into the
// config. Only the bcrypt hash belongs in the config file.
func main() {
	name := flag.String("name", "", "Operator name the token belongs to")
	flag.Parse()
	if *name == "" {
		fmt.Fprintln(os.Stderr, "Error: --name is required")
		os.Exit(1)
	}
	token, hash, err := auth.GenerateToken()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating token: %v\n", err)
		os.Exit(1)
	}
	entry, err := yaml.Marshal(config.AuthConfig{Tokens: []config.APIToken{{Name: *name, Hash: hash}}})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding config entry: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Token for %s (shown once):\n  %s\n\n", *name, token)
	fmt.Printf("Add to the auth section of equipscan.yaml:\n%s", entry)
}
