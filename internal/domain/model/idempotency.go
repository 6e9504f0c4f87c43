package model

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// DedupCooldown is how long a digest suppresses duplicate job creation.
const DedupCooldown = 24 * time.Hour

// IdempotencyRecord maps a request digest to the job it created. Records are
// never mutated; a new record supersedes an old one once the cooldown passes.
type IdempotencyRecord struct {
	Digest    string
	JobID     string
	CreatedAt time.Time
}

// ComputeDigest produces the stable digest that identifies one logical unit
// of work. Target IDs are sorted so ordering at the call site cannot change
// the identity, and the bucket pins the digest to one UTC calendar day.
func ComputeDigest(orgID, scope string, targetIDs []string, bucket time.Time, modelVersion string) string {
	ids := make([]string, len(targetIDs))
	copy(ids, targetIDs)
	sort.Strings(ids)

	h := sha256.New()
	h.Write([]byte(orgID))
	h.Write([]byte{0})
	h.Write([]byte(scope))
	h.Write([]byte{0})
	h.Write([]byte(strings.Join(ids, ",")))
	h.Write([]byte{0})
	h.Write([]byte(bucket.UTC().Format("2006-01-02")))
	h.Write([]byte{0})
	h.Write([]byte(modelVersion))
	return hex.EncodeToString(h.Sum(nil))
}
