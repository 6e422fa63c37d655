package python

import (
	"os"

	"github.com/wippyai/gym-bridge/errors"
)

// Environment variables read by ConfigFromEnv.
const (
	EnvSitePackages = "GYMBRIDGE_SITE_PACKAGES"
	EnvInclude      = "GYMBRIDGE_INCLUDE"
)

// Config holds what the host needs before the interpreter can start.
type Config struct {
	// SitePackages is the interpreter's package directory.
	SitePackages string
	// Include is the interpreter's include directory.
	Include string
	// Shutdown makes Finalize tear the interpreter down. Off by default:
	// some extension modules crash during teardown and process exit
	// reclaims everything anyway.
	Shutdown bool
}

// ConfigFromEnv reads the directories from the environment.
func ConfigFromEnv() Config {
	return Config{}.WithEnv()
}

// WithEnv overrides the directories with any set environment variables.
func (c Config) WithEnv() Config {
	if v := os.Getenv(EnvSitePackages); v != "" {
		c.SitePackages = v
	}
	if v := os.Getenv(EnvInclude); v != "" {
		c.Include = v
	}
	return c
}

// Validate fails when either directory is missing.
func (c Config) Validate() error {
	if c.SitePackages == "" {
		return errors.New(errors.PhaseConfig, errors.KindNotInitialized).
			Path("site_packages").
			Detail("%s is not set", EnvSitePackages).
			Build()
	}
	if c.Include == "" {
		return errors.New(errors.PhaseConfig, errors.KindNotInitialized).
			Path("include").
			Detail("%s is not set", EnvInclude).
			Build()
	}
	return nil
}

// Paths returns the directories to prepend to sys.path, in order.
func (c Config) Paths() []string {
	return []string{c.SitePackages, c.Include}
}
