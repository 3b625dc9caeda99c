package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and the cross-field rules the struct
// tags cannot express.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}

	var errs []error

	switch cfg.Policy.Source {
	case "https":
		u, err := url.Parse(cfg.Policy.URL)
		if err != nil || u.Host == "" {
			errs = append(errs, fmt.Errorf("policy.url must be an absolute URL"))
		} else if u.Scheme != "https" {
			errs = append(errs, fmt.Errorf("policy.url must use https, got %q", u.Scheme))
		}
	case "s3":
		if cfg.Policy.S3Bucket == "" || cfg.Policy.S3Key == "" {
			errs = append(errs, fmt.Errorf("s3 policy source requires s3_bucket and s3_key"))
		}
		if cfg.Policy.S3Endpoint != "" && !strings.HasPrefix(cfg.Policy.S3Endpoint, "https://") {
			errs = append(errs, fmt.Errorf("policy.s3_endpoint must use https"))
		}
	}
	if (cfg.Policy.CredentialFile == "") != (cfg.Policy.IdentityFile == "") {
		errs = append(errs, fmt.Errorf("policy.credential_file and policy.identity_file must be set together"))
	}
	if cfg.Policy.BackoffBase > cfg.Policy.BackoffCap {
		errs = append(errs, fmt.Errorf("policy.backoff_base exceeds policy.backoff_cap"))
	}
	if cfg.Policy.PollJitter >= cfg.Policy.PollInterval {
		errs = append(errs, fmt.Errorf("policy.poll_jitter must be smaller than policy.poll_interval"))
	}

	if cfg.Usage.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Usage.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("usage.timezone: %w", err))
		}
	}
	if cfg.Daemon.PolicyOnly && cfg.Daemon.UsageOnly {
		errs = append(errs, fmt.Errorf("daemon.policy_only and daemon.usage_only are mutually exclusive"))
	}

	seenIDs := make(map[string]bool)
	seenAliases := make(map[string]string)
	for _, id := range cfg.Identities {
		if seenIDs[id.ID] {
			errs = append(errs, fmt.Errorf("identity %q declared twice", id.ID))
		}
		seenIDs[id.ID] = true
		// Account names match case-insensitively.
		for _, alias := range id.Aliases {
			key := strings.ToLower(alias)
			if owner, ok := seenAliases[key]; ok && owner != id.ID {
				errs = append(errs, fmt.Errorf("account %q mapped to both %q and %q", alias, owner, id.ID))
			}
			seenAliases[key] = id.ID
		}
		for key := range id.Custom {
			if !isCustomBudgetKey(key) {
				errs = append(errs, fmt.Errorf("identity %q: custom budget key %q is neither a date nor a weekday", id.ID, key))
			}
		}
	}
	for _, exempt := range cfg.Usage.ExemptAccounts {
		if owner, ok := seenAliases[strings.ToLower(exempt)]; ok {
			errs = append(errs, fmt.Errorf("exempt account %q is also an alias of %q", exempt, owner))
		}
	}

	return errors.Join(errs...)
}

var weekdays = map[string]bool{
	"sunday": true, "monday": true, "tuesday": true, "wednesday": true,
	"thursday": true, "friday": true, "saturday": true,
}

func isCustomBudgetKey(key string) bool {
	if weekdays[key] {
		return true
	}
	_, err := time.Parse(time.DateOnly, key)
	return err == nil
}
