package incident

import (
	"crypto/sha1"
	"encoding/hex"
)

// Fingerprint computes the dedup key for UpsertIncident: the first 24 hex
// characters of SHA-1(type|channel|title).
func Fingerprint(incidentType, channel, title string) string {
	sum := sha1.Sum([]byte(incidentType + "|" + channel + "|" + title))
	return hex.EncodeToString(sum[:])[:24]
}
