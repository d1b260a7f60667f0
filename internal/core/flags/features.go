package flags

// =============================================================================
// Features
// =============================================================================

// Feature is a known selection token.
type Feature string

const (
	InfraOnly        Feature = "infra-only"
	PlatformBackend  Feature = "platform:be"
	PlatformFull     Feature = "platform:be+fe"
	PortalBackend    Feature = "portal:be"
	PortalFull       Feature = "portal:be+fe"
	Functions        Feature = "functions"
	FunctionsStorage Feature = "functions:storage"
)

// implications lists features switched on by another feature.
// A full stack selection always includes its backend.
var implications = map[Feature][]Feature{
	PlatformFull: {PlatformBackend},
	PortalFull:   {PortalBackend},
	Functions:    {FunctionsStorage},
}

// AllFeatures returns every known feature in declaration order.
func AllFeatures() []Feature {
	return []Feature{
		InfraOnly,
		PlatformBackend,
		PlatformFull,
		PortalBackend,
		PortalFull,
		Functions,
		FunctionsStorage,
	}
}

// Features is the resolved, implication-closed set of enabled features.
type Features struct {
	enabled map[Feature]bool
}

// Enabled reports whether f is selected directly or by implication.
func (f Features) Enabled(feature Feature) bool {
	return f.enabled[feature]
}

// List returns the enabled features in declaration order.
func (f Features) List() []Feature {
	var out []Feature
	for _, feature := range AllFeatures() {
		if f.enabled[feature] {
			out = append(out, feature)
		}
	}
	return out
}

// =============================================================================
// Predicates
// =============================================================================

// Predicate decides whether a builder runs for a feature selection.
type Predicate func(Features) bool

// Always enables a builder unconditionally.
func Always() Predicate {
	return func(Features) bool { return true }
}

// Requires enables a builder when feature is enabled.
func Requires(feature Feature) Predicate {
	return func(f Features) bool { return f.Enabled(feature) }
}

// AnyOf enables a builder when at least one of features is enabled.
func AnyOf(features ...Feature) Predicate {
	return func(f Features) bool {
		for _, feature := range features {
			if f.Enabled(feature) {
				return true
			}
		}
		return false
	}
}
