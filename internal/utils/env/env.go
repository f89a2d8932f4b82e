// Package env handles the environment variables injected into test environments.
package env

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

var envKeyRegexp = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ParseSpecs parses `KEY=VALUE` specs, a bare `KEY` takes its value from the
// current process environment.
func ParseSpecs(specs []string) (map[string]string, error) {
	vars := make(map[string]string, len(specs))

	for _, spec := range specs {
		if spec == "" {
			return nil, fmt.Errorf("environment variable spec cannot be empty")
		}

		key, value, ok := strings.Cut(spec, "=")
		if !isValidKey(key) {
			return nil, fmt.Errorf("invalid environment variable key %q", key)
		}
		if !ok {
			value, ok = os.LookupEnv(key)
			if !ok {
				return nil, fmt.Errorf("environment variable %q is not set", key)
			}
		}

		vars[key] = value
	}

	return vars, nil
}

// Merge returns a new map with the overrides applied on top of base.
func Merge(base, override map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}

	return merged
}

// List returns the variables as `KEY=VALUE` entries sorted by key.
func List(vars map[string]string) []string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	list := make([]string, 0, len(keys))
	for _, k := range keys {
		list = append(list, k+"="+vars[k])
	}
	return list
}

func isValidKey(k string) bool {
	return envKeyRegexp.MatchString(k)
}
