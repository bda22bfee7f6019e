package integrity

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/lucasnoah/mailgate/internal/handoff"
)

const hashPrefix = "v1:"

// ContentHash returns a versioned SHA-256 digest over the record's identity
// fields and canonical payload JSON. Fields are length-prefixed so free text
// cannot collide across field boundaries.
func ContentHash(r handoff.HandoffRecord) string {
	h := sha256.New()
	write := func(s string) {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(s))) //nolint:gosec // payloads are bounded well below 4GiB
		h.Write(lenBuf[:])
		h.Write([]byte(s))
	}
	write(r.TraceID)
	write(r.RunID)
	write(string(r.StageFrom))
	write(string(r.StageTo))
	write(r.Timestamp.UTC().Format(time.RFC3339Nano))
	payload, err := json.Marshal(r.Payload)
	if err != nil {
		payload = nil
	}
	write(string(payload))
	return hashPrefix + hex.EncodeToString(h.Sum(nil))
}

// VerifyRecord reports whether r.ContentHash matches its content.
func VerifyRecord(r handoff.HandoffRecord) bool {
	if !strings.HasPrefix(r.ContentHash, hashPrefix) {
		return false
	}
	return r.ContentHash == ContentHash(r)
}

func hashPair(a, b string) string {
	h := sha256.New()
	h.Write([]byte{0x01})
	h.Write([]byte(a))
	h.Write([]byte(b))
	return hex.EncodeToString(h.Sum(nil))
}

// BuildMerkleRoot folds leaf hashes pairwise into a single root. Leaf order
// is significant. An odd node is paired with itself.
func BuildMerkleRoot(leaves []string) string {
	if len(leaves) == 0 {
		return ""
	}
	level := append([]string(nil), leaves...)
	for len(level) > 1 {
		next := make([]string, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, hashPair(level[i], level[i]))
			}
		}
		level = next
	}
	return level[0]
}

// RunRoot returns the Merkle root over the records' content hashes in chain
// order, recomputing any missing hash.
func RunRoot(records []handoff.HandoffRecord) string {
	leaves := make([]string, len(records))
	for i, r := range records {
		if r.ContentHash != "" {
			leaves[i] = r.ContentHash
		} else {
			leaves[i] = ContentHash(r)
		}
	}
	return BuildMerkleRoot(leaves)
}
