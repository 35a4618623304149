package memory

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Checksum returns the hex BLAKE2b-256 digest of content.
func Checksum(content string) string {
	sum := blake2b.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// HashContent derives the stable memory_hash for a payload. It is keyed
// differently from Checksum so a hash never doubles as a checksum.
func HashContent(content string) string {
	h, _ := blake2b.New256([]byte("thermal-memory-hash")) // key is < 64 bytes, cannot fail
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))
}

// Seal recomputes the record's content checksum.
func (r *Record) Seal() {
	r.ContentChecksum = Checksum(r.Content())
}

// VerifyChecksum reports whether the stored checksum matches the payload.
// A record without a checksum is treated as valid. On mismatch the record
// is flagged with IntegrityWarning.
func (r *Record) VerifyChecksum() bool {
	if r.ContentChecksum == "" {
		return true
	}
	if Checksum(r.Content()) == r.ContentChecksum {
		return true
	}
	r.IntegrityWarning = true
	return false
}
