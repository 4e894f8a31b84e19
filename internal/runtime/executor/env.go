package executor

import (
	"os"
	"strings"
)

// mergeEnv overlays env onto the parent environment. npm lifecycle variables
// are dropped because they make npx-installed tools print warnings.
func mergeEnv(env map[string]string) []string {
	base := make(map[string]string, len(os.Environ())+len(env))
	for _, entry := range os.Environ() {
		if eq := strings.IndexByte(entry, '='); eq >= 0 {
			key := entry[:eq]
			if isNpmEnvVar(key) {
				continue
			}
			base[key] = entry[eq+1:]
		}
	}
	for k, v := range env {
		base[k] = v
	}
	merged := make([]string, 0, len(base))
	for k, v := range base {
		merged = append(merged, k+"="+v)
	}
	return merged
}

func isNpmEnvVar(key string) bool {
	for _, prefix := range []string{"npm_config_", "npm_package_", "npm_lifecycle_", "npm_execpath", "npm_node_execpath"} {
		if strings.HasPrefix(key, prefix) {
			return true
		}
	}
	return false
}
