package fetch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"curfew/internal/curfew"
	"curfew/internal/model"
	"curfew/internal/policy"
	"curfew/internal/secret"
)

// ObjectGetter is the part of the S3 client the fetcher uses.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Options configures an S3Fetcher.
type S3Options struct {
	Bucket   string
	Key      string
	Region   string
	Endpoint string // https endpoint of an S3-compatible store; empty for AWS
	// Credentials holds "ACCESS_KEY:SECRET_KEY"; nil or empty uses the
	// default AWS credential chain.
	Credentials  secret.Source
	MaxBodyBytes int64
	Clock        curfew.Clock
}

// S3Fetcher fetches the policy document from an S3 object using the
// object's ETag as validator.
type S3Fetcher struct {
	client  ObjectGetter
	bucket  string
	key     string
	maxBody int64
	clock   curfew.Clock
}

var _ curfew.Fetcher = (*S3Fetcher)(nil)

// NewS3Fetcher builds the S3 client from the options.
func NewS3Fetcher(ctx context.Context, opts S3Options) (*S3Fetcher, error) {
	if opts.Endpoint != "" && !strings.HasPrefix(opts.Endpoint, "https://") {
		return nil, curfew.NewError(curfew.ErrNetworkPermanent, "configure fetch",
			fmt.Errorf("s3 endpoint must use https"))
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(opts.Region))
	}
	if opts.Credentials != nil {
		cred, err := opts.Credentials.Credential()
		if err != nil {
			return nil, fmt.Errorf("reading s3 credentials: %w", err)
		}
		if !cred.Empty() {
			access, secretKey, ok := strings.Cut(cred.Reveal(), ":")
			if !ok {
				return nil, errors.New("s3 credential must be ACCESS_KEY:SECRET_KEY")
			}
			loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
				credentials.NewStaticCredentialsProvider(access, secretKey, "")))
		}
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewS3FetcherWithClient(client, opts), nil
}

// NewS3FetcherWithClient uses an existing client.
func NewS3FetcherWithClient(client ObjectGetter, opts S3Options) *S3Fetcher {
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 4 << 20
	}
	clock := opts.Clock
	if clock == nil {
		clock = curfew.RealClock{}
	}
	return &S3Fetcher{client: client, bucket: opts.Bucket, key: opts.Key, maxBody: maxBody, clock: clock}
}

func (f *S3Fetcher) Source() string { return "s3://" + f.bucket + "/" + f.key }

func (f *S3Fetcher) Fetch(ctx context.Context, token *model.FetchCacheToken) (*curfew.FetchResult, error) {
	input := &s3.GetObjectInput{
		Bucket: aws.String(f.bucket),
		Key:    aws.String(f.key),
	}
	validator := conditional(token, f.Source())
	if validator != "" {
		input.IfNoneMatch = aws.String(validator)
	}

	out, err := f.client.GetObject(ctx, input)
	if err != nil {
		if status := responseStatus(err); status == http.StatusNotModified {
			if validator == "" {
				return nil, curfew.NewError(curfew.ErrNetworkPermanent, "fetch", errNoValidator)
			}
			return &curfew.FetchResult{Status: curfew.FetchUnchanged, Token: freshToken(f.Source(), validator, f.clock.Now())}, nil
		}
		return nil, classifyS3(err)
	}
	defer out.Body.Close()

	format := policy.FormatFromContentType(aws.ToString(out.ContentType))
	if format == policy.FormatAuto {
		format = policy.FormatFromPath(f.key)
	}
	doc, err := readDocument(out.Body, f.maxBody, format)
	if err != nil {
		return nil, err
	}
	return &curfew.FetchResult{
		Status:   curfew.FetchUpdated,
		Document: doc,
		Token:    freshToken(f.Source(), aws.ToString(out.ETag), f.clock.Now()),
	}, nil
}

func responseStatus(err error) int {
	var re *smithyhttp.ResponseError
	if errors.As(err, &re) {
		return re.HTTPStatusCode()
	}
	return 0
}

func classifyS3(err error) error {
	var noKey *types.NoSuchKey
	if errors.As(err, &noKey) {
		return curfew.NewError(curfew.ErrNetworkPermanent, "fetch", err)
	}
	if status := responseStatus(err); status != 0 {
		return classifyStatus("fetch", status)
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorFault() == smithy.FaultClient {
		return curfew.NewError(curfew.ErrNetworkPermanent, "fetch", err)
	}
	return curfew.NewError(curfew.ErrNetworkTransient, "fetch", err)
}
