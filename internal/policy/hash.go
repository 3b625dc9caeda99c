package policy

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/zeebo/blake3"

	"curfew/internal/model"
)

// Canonical returns the canonical encoding of doc: compact JSON with map
// keys sorted. A JSON and a YAML rendering of the same rules share it.
func Canonical(doc *model.PolicyDocument) ([]byte, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("canonicalizing document: %w", err)
	}
	return data, nil
}

// ContentHash is the hex BLAKE3 digest of the canonical document.
func ContentHash(doc *model.PolicyDocument) (string, error) {
	data, err := Canonical(doc)
	if err != nil {
		return "", err
	}
	return Digest(data), nil
}

// SettingsHash identifies the translated settings of one target.
func SettingsHash(settings model.TargetSettings) (string, error) {
	data, err := json.Marshal(settings.Values)
	if err != nil {
		return "", fmt.Errorf("hashing settings: %w", err)
	}
	return Digest(data), nil
}

// Digest is the hex BLAKE3 digest of data.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
