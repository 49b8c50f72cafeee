package exec

import (
	"strings"

	"github.com/felixgeelhaar/cibox/internal/errors"
)

// Policy restricts what jobs may run. A nil Policy allows everything.
type Policy struct {
	// AllowedBases lists permitted base images. A trailing "*" matches by
	// prefix.
	AllowedBases []string `yaml:"allowed_bases,omitempty" json:"allowed_bases,omitempty"`
	// AllowedNetworks lists permitted container networks besides "none".
	AllowedNetworks []string `yaml:"allowed_networks,omitempty" json:"allowed_networks,omitempty"`
}

// CheckBase validates a base image against the allowlist.
func (p *Policy) CheckBase(base string) error {
	if p == nil || len(p.AllowedBases) == 0 {
		return nil
	}
	for _, pattern := range p.AllowedBases {
		if matchesImagePattern(base, pattern) {
			return nil
		}
	}
	return errors.Newf(errors.ErrCodeConfigRunnerSettings, "base image %s is not in the allowlist", base).
		WithSuggestion("Add the image to policy.allowed_bases in .cibox/config.yaml")
}

// CheckNetwork validates a container network mode.
func (p *Policy) CheckNetwork(network string) error {
	if p == nil || network == "" || network == DefaultNetwork {
		return nil
	}
	for _, allowed := range p.AllowedNetworks {
		if network == allowed {
			return nil
		}
	}
	return errors.Newf(errors.ErrCodeConfigRunnerSettings, "network mode %q not allowed", network).
		WithSuggestion("Add the network to policy.allowed_networks in .cibox/config.yaml")
}

// matchesImagePattern checks if an image matches a pattern
// Supports exact match and wildcard patterns
func matchesImagePattern(image, pattern string) bool {
	if image == pattern {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(image, strings.TrimSuffix(pattern, "*"))
	}
	return false
}
