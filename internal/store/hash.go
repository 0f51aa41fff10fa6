package store

import (
	"crypto/sha256"
	"fmt"
)

// HashDocumentContent computes SHA-256 of subject + payload + text for
// deduplication.
//
// Including the subject means the same form filed for two people creates
// two documents. Creation time is not hashed: re-uploading identical
// content is a duplicate.
func HashDocumentContent(subjectID string, payload []byte, text string) string {
	h := sha256.New()
	h.Write([]byte(subjectID))
	h.Write([]byte{0}) // separator
	h.Write(payload)
	h.Write([]byte{0})
	h.Write([]byte(text))
	return fmt.Sprintf("%x", h.Sum(nil))
}
