package main

import (
	"fmt"
	"path/filepath"

	"github.com/kalambet/roamr/internal/client"
	"github.com/kalambet/roamr/internal/config"
)

// newAppClient builds the API client from config. Tests replace it.
var newAppClient = func() (*client.Client, config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, config.Config{}, fmt.Errorf("loading config: %w", err)
	}
	return client.New(cfg.Client.BaseURL, cfg.Client.Token), cfg, nil
}

// savedCachePath is where the local saved set persists between runs.
func savedCachePath(cfg config.Config) string {
	return filepath.Join(cfg.Storage.DataDir, "saved.json")
}
