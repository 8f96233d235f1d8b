package serialization

import (
	"crypto/sha256"
	"fmt"
)

// ComputeChecksum computes the SHA-256 checksum of data.
func ComputeChecksum(data []byte) [ChecksumSize]byte {
	return sha256.Sum256(data)
}

// ValidateChecksum compares a computed checksum against the stored one.
func ValidateChecksum(computed, stored [ChecksumSize]byte) error {
	if computed != stored {
		return fmt.Errorf("%w: stored %x, computed %x", ErrChecksumMismatch, stored[:4], computed[:4])
	}
	return nil
}
