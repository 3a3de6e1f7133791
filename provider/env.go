package provider

import "os"

// envOrEmpty returns the value of the named environment variable, or ""
// if key is empty or unset.
func envOrEmpty(key string) string {
	if key == "" {
		return ""
	}
	return os.Getenv(key)
}
