package flags

import (
	"fmt"
	"strings"

	"github.com/artpar/apphost/internal/core/domain"
)

// Environment is the publish target environment.
type Environment string

const (
	EnvironmentDev     Environment = "Dev"
	EnvironmentStaging Environment = "Staging"
	EnvironmentProd    Environment = "Prod"
)

// Tag returns the lowercase form used for image tags ("dev").
func (e Environment) Tag() string {
	return strings.ToLower(string(e))
}

// ParseEnvironment parses a target environment name.
// Accepted (case-insensitive): dev, staging, prod, production.
func ParseEnvironment(raw string) (Environment, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "dev":
		return EnvironmentDev, nil
	case "staging":
		return EnvironmentStaging, nil
	case "prod", "production":
		return EnvironmentProd, nil
	case "":
		return "", fmt.Errorf("%w: target environment is empty", domain.ErrInvalidFlagSelection)
	default:
		return "", fmt.Errorf("%w: invalid environment selection %q", domain.ErrInvalidFlagSelection, raw)
	}
}
