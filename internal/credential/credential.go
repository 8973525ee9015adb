// Package credential resolves the API key used to authenticate the live
// session.
//
// The effective key is the first usable value in the chain: the GEMINI_API_KEY
// environment variable, then the configured key. Build and deploy tooling
// sometimes injects placeholder values instead of real keys; those are treated
// as absent rather than sent to the remote endpoint, where they would fail as
// an opaque handshake rejection.
package credential

import (
	"errors"
	"os"
	"strings"
)

// EnvVar is the environment variable consulted first.
const EnvVar = "GEMINI_API_KEY"

// ErrMissing means no usable credential is available from any source.
var ErrMissing = errors.New("credential: no API key configured")

// Source yields the client credential for the live session.
type Source interface {
	// ClientCredential returns the API key, or [ErrMissing].
	ClientCredential() (string, error)
}

// Compile-time assertion that Chain satisfies the Source interface.
var _ Source = (*Chain)(nil)

// Chain is the standard resolution order: environment variable first, then
// the configured key. Placeholder values at either step are skipped.
type Chain struct {
	// ConfigKey is the key from the configuration file, possibly empty.
	ConfigKey string

	// lookupEnv overrides os.LookupEnv in tests.
	lookupEnv func(string) (string, bool)
}

// NewChain creates a Chain falling back to configKey when the environment
// provides nothing usable.
func NewChain(configKey string) *Chain {
	return &Chain{ConfigKey: configKey}
}

// ClientCredential implements [Source].
func (c *Chain) ClientCredential() (string, error) {
	lookup := c.lookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if v, ok := lookup(EnvVar); ok && usable(v) {
		return v, nil
	}
	if usable(c.ConfigKey) {
		return c.ConfigKey, nil
	}
	return "", ErrMissing
}

// usable reports whether key looks like a real credential rather than an
// injected placeholder.
func usable(key string) bool {
	switch {
	case key == "":
		return false
	case strings.Contains(key, "PLACEHOLDER"):
		return false
	case key == "YOUR_ACTUAL_API_KEY_HERE":
		return false
	}
	return true
}
