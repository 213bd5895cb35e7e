package device

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// Fingerprint hashes the request headers that identify a browser install.
// Mobile clients that send X-Device-ID are identified by that alone.
func Fingerprint(r *http.Request) string {
	combined := r.Header.Get("X-Device-ID")
	if combined == "" {
		combined = strings.Join([]string{
			r.UserAgent(),
			r.Header.Get("Accept-Language"),
			r.Header.Get("Accept-Encoding"),
		}, "|")
	}

	hash := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(hash[:])
}
