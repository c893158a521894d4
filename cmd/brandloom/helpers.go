package main

import (
	"fmt"
	"os"

	brandloom "github.com/Brandloom-AI/Brandloom/sdk/golang"
)

// clientOptsFromConfig builds client options from the stored configuration.
func clientOptsFromConfig(cfg *Config) []brandloom.ClientOption {
	var opts []brandloom.ClientOption
	if cfg.Default.BaseURL != "" {
		opts = append(opts, brandloom.WithBaseURL(cfg.Default.BaseURL))
	} else if cfg.Default.Environment != "" && cfg.Default.Environment != "production" {
		opts = append(opts, brandloom.WithEnvironment(brandloom.Environment(cfg.Default.Environment)))
	}
	return opts
}

// getAPIClient creates a Brandloom client authenticated with the API key.
func getAPIClient() *brandloom.Client {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Default.APIKey == "" {
		fmt.Fprintln(os.Stderr, "No API key. Run 'brandloom init <api-key>' first.")
		os.Exit(1)
	}
	return brandloom.NewClient(cfg.Default.APIKey, clientOptsFromConfig(cfg)...)
}

// getCollabIdentity returns the realtime identity stored in the config.
func getCollabIdentity(cfg *Config) brandloom.UserInfo {
	if cfg.Auth.CollabToken == "" {
		fmt.Fprintln(os.Stderr, "No collaboration token. Run 'brandloom config set auth.collab_token <token>' first.")
		os.Exit(1)
	}
	return brandloom.UserInfo{
		UserID:   cfg.Auth.UserID,
		Username: cfg.Auth.Username,
		Token:    cfg.Auth.CollabToken,
	}
}
