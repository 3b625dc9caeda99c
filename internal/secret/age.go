// Package secret keeps the policy source credential sealed at rest and
// out of logs.
package secret

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
)

// Source yields the credential used to authenticate to the policy source.
type Source interface {
	Credential() (Redacted, error)
}

// AgeSealed stores the credential age-encrypted to a machine-local X25519
// identity. The identity file is readable only by the daemon's user; the
// ciphertext can sit next to the config without exposing the token.
type AgeSealed struct {
	identityPath   string
	credentialPath string
}

var _ Source = (*AgeSealed)(nil)

// NewAgeSealed creates an AgeSealed over the two file paths.
func NewAgeSealed(identityPath, credentialPath string) *AgeSealed {
	return &AgeSealed{identityPath: identityPath, credentialPath: credentialPath}
}

// Seal encrypts credential and writes it, generating the identity on first use.
func (a *AgeSealed) Seal(credential Redacted) error {
	if credential.Empty() {
		return fmt.Errorf("refusing to seal an empty credential")
	}
	identity, err := a.loadOrCreateIdentity()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, identity.Recipient())
	if err != nil {
		return fmt.Errorf("creating encrypted writer: %w", err)
	}
	if _, err := io.WriteString(w, credential.Reveal()); err != nil {
		return fmt.Errorf("encrypting credential: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing encrypted credential: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(a.credentialPath), 0700); err != nil {
		return fmt.Errorf("creating credential directory: %w", err)
	}
	if err := os.WriteFile(a.credentialPath, buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("writing sealed credential: %w", err)
	}
	return nil
}

// Credential decrypts the sealed credential.
func (a *AgeSealed) Credential() (Redacted, error) {
	identities, err := a.readIdentities()
	if err != nil {
		return Redacted{}, err
	}

	f, err := os.Open(a.credentialPath)
	if err != nil {
		return Redacted{}, fmt.Errorf("opening sealed credential: %w", err)
	}
	defer f.Close()

	r, err := age.Decrypt(f, identities...)
	if err != nil {
		return Redacted{}, fmt.Errorf("decrypting credential: %w", err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return Redacted{}, fmt.Errorf("reading decrypted credential: %w", err)
	}
	return NewRedacted(strings.TrimSpace(string(data))), nil
}

// IsConfigured returns true if both files exist.
func (a *AgeSealed) IsConfigured() bool {
	if _, err := os.Stat(a.identityPath); err != nil {
		return false
	}
	if _, err := os.Stat(a.credentialPath); err != nil {
		return false
	}
	return true
}

func (a *AgeSealed) loadOrCreateIdentity() (*age.X25519Identity, error) {
	identities, err := a.readIdentities()
	if err == nil {
		for _, id := range identities {
			if x, ok := id.(*age.X25519Identity); ok {
				return x, nil
			}
		}
		return nil, fmt.Errorf("%s holds no X25519 identity", a.identityPath)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	identity, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generating identity: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(a.identityPath), 0700); err != nil {
		return nil, fmt.Errorf("creating identity directory: %w", err)
	}
	f, err := os.OpenFile(a.identityPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("creating identity file: %w", err)
	}
	defer f.Close()
	if _, err := fmt.Fprintf(f, "# public key: %s\n%s\n", identity.Recipient(), identity); err != nil {
		return nil, fmt.Errorf("writing identity: %w", err)
	}
	return identity, nil
}

func (a *AgeSealed) readIdentities() ([]age.Identity, error) {
	data, err := os.ReadFile(a.identityPath)
	if err != nil {
		return nil, fmt.Errorf("reading identity file: %w", err)
	}
	identities, err := age.ParseIdentities(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing identity file: %w", err)
	}
	return identities, nil
}

// Static is a Source holding a fixed credential, for tests and for sources
// that need none.
type Static struct {
	value Redacted
}

var _ Source = Static{}

// NewStatic creates a Static source.
func NewStatic(value string) Static {
	return Static{value: NewRedacted(value)}
}

func (s Static) Credential() (Redacted, error) { return s.value, nil }
