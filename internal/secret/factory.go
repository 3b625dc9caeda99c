package secret

import (
	"os"

	"curfew/internal/config"
)

// NewSourceFromConfig returns the credential source for the policy fetcher.
// Without credential_file the source is anonymous; the CURFEW_POLICY_TOKEN
// environment variable is honored for development setups.
func NewSourceFromConfig(cfg config.PolicyConfig) Source {
	if cfg.CredentialFile != "" {
		return NewAgeSealed(cfg.IdentityFile, cfg.CredentialFile)
	}
	return NewStatic(os.Getenv("CURFEW_POLICY_TOKEN"))
}
