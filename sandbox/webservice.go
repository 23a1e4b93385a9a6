package sandbox

import "strings"

// Supported web frameworks
const (
	FrameworkFlask   = "flask"
	FrameworkFastAPI = "fastapi"
)

// WebServiceSentinel is appended to web-service sources. Reaching it proves
// the application imported and was constructed without binding a port.
const WebServiceSentinel = "\n\n# Test if app can be created\nprint('Web app created successfully!')"

var frameworkDependencies = map[string][]string{
	FrameworkFlask:   {"flask"},
	FrameworkFastAPI: {"fastapi", "uvicorn"},
}

// WebServiceSource appends the load-check sentinel to code
func WebServiceSource(code string) string {
	return code + WebServiceSentinel
}

// WebServiceDependencies returns the framework's packages followed by extra,
// skipping names already present. An empty framework means flask.
func WebServiceDependencies(framework string, extra []string) ([]string, error) {
	framework = strings.ToLower(strings.TrimSpace(framework))
	if framework == "" {
		framework = FrameworkFlask
	}

	base, ok := frameworkDependencies[framework]
	if !ok {
		return nil, NewFailure(KindInvalidRequest, "unsupported web framework: %s, must be 'flask' or 'fastapi'", framework)
	}

	deps := make([]string, 0, len(base)+len(extra))
	seen := make(map[string]struct{}, len(base)+len(extra))
	for _, dep := range append(append([]string{}, base...), extra...) {
		name := PackageName(dep)
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		deps = append(deps, dep)
	}

	return deps, nil
}
