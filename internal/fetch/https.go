package fetch

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"curfew/internal/curfew"
	"curfew/internal/model"
	"curfew/internal/policy"
	"curfew/internal/secret"
)

// lastModifiedPrefix marks a validator taken from Last-Modified rather than
// ETag. ETags are always quoted, so the two cannot collide.
const lastModifiedPrefix = "lm:"

// HTTPSOptions tunes an HTTPSFetcher.
type HTTPSOptions struct {
	Timeout      time.Duration
	MaxBodyBytes int64
	// Client replaces the default client; its CheckRedirect is overwritten
	// so redirects to plain HTTP are always refused.
	Client *http.Client
	Clock  curfew.Clock
}

// HTTPSFetcher fetches the policy document with a conditional GET.
type HTTPSFetcher struct {
	url     string
	creds   secret.Source
	client  *http.Client
	maxBody int64
	clock   curfew.Clock
}

var _ curfew.Fetcher = (*HTTPSFetcher)(nil)

// NewHTTPSFetcher creates a fetcher for rawURL, which must use https.
// creds may be nil when the source needs no bearer credential.
func NewHTTPSFetcher(rawURL string, creds secret.Source, opts HTTPSOptions) (*HTTPSFetcher, error) {
	if err := requireHTTPS(rawURL); err != nil {
		return nil, curfew.NewError(curfew.ErrNetworkPermanent, "configure fetch", err)
	}
	client := opts.Client
	if client == nil {
		transport := http.DefaultTransport.(*http.Transport).Clone()
		transport.TLSClientConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		client = &http.Client{Transport: transport}
	}
	if opts.Timeout > 0 {
		client.Timeout = opts.Timeout
	}
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if req.URL.Scheme != "https" {
			return fmt.Errorf("refusing redirect to %s", req.URL.Scheme)
		}
		if len(via) >= 5 {
			return errors.New("too many redirects")
		}
		return nil
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 4 << 20
	}
	clock := opts.Clock
	if clock == nil {
		clock = curfew.RealClock{}
	}
	return &HTTPSFetcher{url: rawURL, creds: creds, client: client, maxBody: maxBody, clock: clock}, nil
}

func (f *HTTPSFetcher) Source() string { return f.url }

func (f *HTTPSFetcher) Fetch(ctx context.Context, token *model.FetchCacheToken) (*curfew.FetchResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return nil, curfew.NewError(curfew.ErrNetworkPermanent, "fetch", err)
	}
	req.Header.Set("Accept", "application/json, application/yaml;q=0.9")

	if f.creds != nil {
		cred, err := f.creds.Credential()
		if err != nil {
			return nil, curfew.NewError(curfew.ErrNetworkPermanent, "fetch credential", err)
		}
		if !cred.Empty() {
			req.Header.Set("Authorization", "Bearer "+cred.Reveal())
		}
	}

	validator := conditional(token, f.url)
	if lm, ok := strings.CutPrefix(validator, lastModifiedPrefix); ok {
		req.Header.Set("If-Modified-Since", lm)
	} else if validator != "" {
		req.Header.Set("If-None-Match", validator)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, classifyTransport(err)
	}
	defer resp.Body.Close()

	now := f.clock.Now()
	switch resp.StatusCode {
	case http.StatusNotModified:
		if validator == "" {
			return nil, curfew.NewError(curfew.ErrNetworkPermanent, "fetch", errNoValidator)
		}
		return &curfew.FetchResult{Status: curfew.FetchUnchanged, Token: freshToken(f.url, validator, now)}, nil

	case http.StatusOK:
		doc, err := readDocument(resp.Body, f.maxBody, policy.FormatFromContentType(resp.Header.Get("Content-Type")))
		if err != nil {
			return nil, err
		}
		next := resp.Header.Get("ETag")
		if next == "" {
			if lm := resp.Header.Get("Last-Modified"); lm != "" {
				next = lastModifiedPrefix + lm
			}
		}
		return &curfew.FetchResult{Status: curfew.FetchUpdated, Document: doc, Token: freshToken(f.url, next, now)}, nil

	default:
		return nil, classifyStatus("fetch", resp.StatusCode)
	}
}

func requireHTTPS(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parsing policy url: %w", err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("policy url must use https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("policy url has no host")
	}
	return nil
}

// classifyTransport maps a client error onto the taxonomy. Certificate
// failures and refused redirects are permanent; timeouts, DNS and
// connection failures are transient.
func classifyTransport(err error) error {
	var (
		unknownAuthority x509.UnknownAuthorityError
		hostname         x509.HostnameError
		verification     *tls.CertificateVerificationError
		dnsErr           *net.DNSError
		urlErr           *url.Error
	)
	switch {
	case errors.As(err, &unknownAuthority), errors.As(err, &hostname), errors.As(err, &verification):
		return curfew.NewError(curfew.ErrNetworkPermanent, "fetch", err)
	case errors.As(err, &dnsErr):
		return curfew.NewError(curfew.ErrNetworkTransient, "fetch", err)
	case errors.As(err, &urlErr) && strings.Contains(urlErr.Err.Error(), "refusing redirect"):
		return curfew.NewError(curfew.ErrNetworkPermanent, "fetch", err)
	default:
		return curfew.NewError(curfew.ErrNetworkTransient, "fetch", err)
	}
}
