package fetch

import (
	"context"
	"fmt"

	"curfew/internal/config"
	"curfew/internal/curfew"
	"curfew/internal/secret"
)

// NewFetcherFromConfig creates a Fetcher based on the policy source type.
// The "none" source returns nil, nil: the daemon then only applies local files.
func NewFetcherFromConfig(ctx context.Context, cfg config.PolicyConfig, clock curfew.Clock) (curfew.Fetcher, error) {
	creds := secret.NewSourceFromConfig(cfg)
	switch cfg.Source {
	case "https":
		return NewHTTPSFetcher(cfg.URL, creds, HTTPSOptions{
			Timeout:      cfg.RequestTimeout,
			MaxBodyBytes: cfg.MaxBodyBytes,
			Clock:        clock,
		})
	case "s3":
		return NewS3Fetcher(ctx, S3Options{
			Bucket:       cfg.S3Bucket,
			Key:          cfg.S3Key,
			Region:       cfg.S3Region,
			Endpoint:     cfg.S3Endpoint,
			Credentials:  creds,
			MaxBodyBytes: cfg.MaxBodyBytes,
			Clock:        clock,
		})
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown policy source: %s", cfg.Source)
	}
}
