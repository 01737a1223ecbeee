package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"strings"
)

const codePrefix = "TKT"

// manualAlphabet drops 0, O, 1 and I so gate staff can read codes back over
// a radio without transcription mistakes.
const manualAlphabet = "23456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// NewRedemptionCode returns the QR payload for a ticket: a namespaced,
// 128-bit random identifier. The value is opaque on purpose; it carries no
// booking or ticket metadata that could be forged by guessing.
func NewRedemptionCode() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the platform entropy source is gone;
		// nothing sensible to issue tickets with.
		log.Fatalf("Could not read random bytes: %s\n", err.Error())
	}
	return fmt.Sprintf("%s-%s", codePrefix, hex.EncodeToString(buf))
}

// NewManualCode returns the human-typable fallback code, XXXX-XXXX-XXXX from
// a 32-symbol alphabet. Codes double as the entry capability token, so the
// random source must be crypto/rand, never math/rand.
func NewManualCode() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		log.Fatalf("Could not read random bytes: %s\n", err.Error())
	}
	var sb strings.Builder
	for i, b := range buf {
		if i > 0 && i%4 == 0 {
			sb.WriteByte('-')
		}
		sb.WriteByte(manualAlphabet[int(b)&31])
	}
	return sb.String()
}
