package sandbox

import (
	"strings"

	"github.com/pylingo/execbox/config"
)

// MiB is one mebibyte in bytes
const MiB = 1024 * 1024

// Default memory ceilings
const (
	DefaultLightMemory    = 128 * MiB
	DefaultStandardMemory = 512 * MiB
	DefaultHeavyMemory    = 2048 * MiB
)

// heavyPackages trigger the largest memory tier.
var heavyPackages = map[string]struct{}{
	"torch":        {},
	"torchvision":  {},
	"transformers": {},
	"scikit-learn": {},
	"plotly":       {},
	"seaborn":      {},
	"tensorflow":   {},
	"keras":        {},
}

// offlinePackages are known not to need network access at run time. A
// dependency list made only of these keeps the network disabled.
var offlinePackages = map[string]struct{}{
	"numpy":        {},
	"pandas":       {},
	"scipy":        {},
	"sympy":        {},
	"matplotlib":   {},
	"seaborn":      {},
	"pillow":       {},
	"scikit-learn": {},
}

// ResourcePolicy is the memory ceiling and network decision for one run
type ResourcePolicy struct {
	MemoryBytes    int64
	NetworkEnabled bool
}

// Resolver maps a dependency list to a ResourcePolicy
type Resolver struct {
	LightMemory    int64
	StandardMemory int64
	HeavyMemory    int64
}

// DefaultResolver returns a Resolver with the 128 MiB / 512 MiB / 2 GiB tiers
func DefaultResolver() Resolver {
	return Resolver{
		LightMemory:    DefaultLightMemory,
		StandardMemory: DefaultStandardMemory,
		HeavyMemory:    DefaultHeavyMemory,
	}
}

// NewResolver builds a Resolver from the configured memory tiers
func NewResolver(tiers config.MemoryTiersConfig) Resolver {
	return Resolver{
		LightMemory:    int64(tiers.LightMB) * MiB,
		StandardMemory: int64(tiers.StandardMB) * MiB,
		HeavyMemory:    int64(tiers.HeavyMB) * MiB,
	}
}

// Resolve computes the policy for deps. It is a pure function of its input.
func (r Resolver) Resolve(deps []string) ResourcePolicy {
	names := make([]string, 0, len(deps))
	for _, dep := range deps {
		if name := PackageName(dep); name != "" {
			names = append(names, name)
		}
	}

	if len(names) == 0 {
		return ResourcePolicy{MemoryBytes: r.LightMemory, NetworkEnabled: false}
	}

	policy := ResourcePolicy{MemoryBytes: r.StandardMemory}
	for _, name := range names {
		if _, ok := heavyPackages[name]; ok {
			policy.MemoryBytes = r.HeavyMemory
		}
		if _, ok := offlinePackages[name]; !ok {
			policy.NetworkEnabled = true
		}
	}

	return policy
}

// PackageName extracts the normalised distribution name from a requirement
// line such as "Scikit_Learn[extra]>=1.0; python_version>'3'".
func PackageName(requirement string) string {
	name := strings.TrimSpace(requirement)
	if i := strings.IndexAny(name, "<>=!~[; @"); i >= 0 {
		name = name[:i]
	}
	name = strings.ToLower(name)
	return strings.NewReplacer("_", "-", ".", "-").Replace(name)
}
