package tools

import (
	"path/filepath"
	"strings"
)

// isDenylisted returns true if the file path should never be handed to the model.
func isDenylisted(path string) bool {
	lower := filepath.ToSlash(strings.ToLower(path))
	base := strings.ToLower(filepath.Base(path))

	if strings.HasPrefix(base, ".env") {
		return true
	}
	for _, ext := range []string{".pem", ".key", ".p12", ".pfx"} {
		if strings.HasSuffix(base, ext) {
			return true
		}
	}
	if strings.HasPrefix(base, "id_rsa") || strings.HasPrefix(base, "id_ed25519") {
		return true
	}
	if base == ".npmrc" || base == ".netrc" {
		return true
	}
	for _, suffix := range []string{".aws/credentials", ".docker/config.json", ".kube/config"} {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}
