package session

import (
	"encoding/hex"
	"unicode/utf8"

	"github.com/ultrasync-link/ultrasync/internal/errs"
)

// obfuscate XORs plaintext bytewise with the repeating ASCII bytes of key
// and returns the result as lowercase hex. This is explicitly a weak
// obfuscation, not a cryptographic primitive.
func obfuscate(key, plaintext string) string {
	kb := []byte(key)
	pb := []byte(plaintext)
	out := make([]byte, len(pb))
	for i, b := range pb {
		out[i] = b ^ kb[i%len(kb)]
	}
	return hex.EncodeToString(out)
}

// deobfuscate is the inverse of obfuscate. It fails with DecryptFailed if
// hexCipher isn't valid hex or the recovered bytes aren't valid UTF-8 —
// either case means the key didn't match what produced the ciphertext.
func deobfuscate(key, hexCipher string) (string, error) {
	if key == "" {
		return "", errs.New(errs.DecryptFailed, "session.deobfuscate")
	}

	raw, err := hex.DecodeString(hexCipher)
	if err != nil {
		return "", errs.Wrap(errs.DecryptFailed, "session.deobfuscate", err)
	}

	kb := []byte(key)
	out := make([]byte, len(raw))
	for i, b := range raw {
		out[i] = b ^ kb[i%len(kb)]
	}

	if !utf8.Valid(out) {
		return "", errs.New(errs.DecryptFailed, "session.deobfuscate")
	}

	return string(out), nil
}
