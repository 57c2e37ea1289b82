// Package config holds the small helpers every service config shares:
// environment parsing and fatal exits from entry points.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ParseEnv fills target from its env tags. Service configs call it before
// applying flag overrides, so flags win over the environment.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
