package utils

import (
	"strings"
)

// EnvValue returns getenv(key) trimmed and whether it is non-empty.
func EnvValue(getenv func(string) string, key string) (string, bool) {
	v := strings.TrimSpace(getenv(key))
	return v, v != ""
}

// SplitList splits a comma separated list, dropping empty entries.
func SplitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
