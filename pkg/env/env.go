package env

import "os"

// Get returns the value of the given environment variable or a fallback.
// The cmd entrypoints use it for platform overrides like PORT and DYNO.
func Get(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}
