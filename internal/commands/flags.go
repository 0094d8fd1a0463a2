package commands

import (
	"os"
	"path/filepath"

	"github.com/hay-kot/dockhand/internal/auth"
	"github.com/hay-kot/dockhand/internal/bootstrap"
	"github.com/hay-kot/dockhand/internal/core/config"
	"github.com/hay-kot/dockhand/internal/core/session"
	"github.com/hay-kot/dockhand/internal/events"
	"github.com/hay-kot/dockhand/internal/graphql"
)

type Flags struct {
	LogLevel   string
	LogFile    string
	ConfigPath string
	DataDir    string

	// Config is loaded in the Before hook and available to all commands
	Config *config.Config

	// Store persists the session between runs
	Store session.Store

	// Client issues GraphQL queries and mutations
	Client *graphql.Client

	// Sessions owns the token pair of this process
	Sessions *auth.Manager

	// Bootstrap guards navigations and loads the user and team
	Bootstrap *bootstrap.Bootstrapper

	// Events holds the subscription bridges and their buffers
	Events *events.Hub
}

// DefaultConfigPath returns the default config file path using XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	configHome := os.Getenv("XDG_CONFIG_HOME")
	if configHome == "" {
		home, _ := os.UserHomeDir()
		configHome = filepath.Join(home, ".config")
	}
	return filepath.Join(configHome, "dockhand", "config.yaml")
}

// DefaultDataDir returns the default data directory using XDG_DATA_HOME.
func DefaultDataDir() string {
	dataHome := os.Getenv("XDG_DATA_HOME")
	if dataHome == "" {
		home, _ := os.UserHomeDir()
		dataHome = filepath.Join(home, ".local", "share")
	}
	return filepath.Join(dataHome, "dockhand")
}
