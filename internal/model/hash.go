package model

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ContentHash derives a deterministic deduplication key from stable content.
func ContentHash(parts ...string) string {
	h := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return "sha256:" + hex.EncodeToString(h[:])
}

// FreshHash returns a key that never collides with an earlier one.
// System notices use it so they are never deduplicated away.
func FreshHash() string {
	return "fresh:" + strconv.FormatInt(time.Now().UnixNano(), 10) + ":" + uuid.NewString()
}
