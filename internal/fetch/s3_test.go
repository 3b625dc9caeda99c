package fetch

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"curfew/internal/curfew"
	"curfew/internal/testutil"
)

// fakeBucket serves one object and answers IfNoneMatch like S3 does.
type fakeBucket struct {
	etag   string
	body   string
	err    error
	inputs []*s3.GetObjectInput
}

func statusError(code int) error {
	return &smithyhttp.ResponseError{
		Response: &smithyhttp.Response{Response: &http.Response{StatusCode: code}},
		Err:      errors.New(http.StatusText(code)),
	}
}

func (b *fakeBucket) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	b.inputs = append(b.inputs, in)
	if b.err != nil {
		return nil, b.err
	}
	if aws.ToString(in.IfNoneMatch) == b.etag {
		return nil, statusError(http.StatusNotModified)
	}
	return &s3.GetObjectOutput{
		Body: io.NopCloser(strings.NewReader(b.body)),
		ETag: aws.String(b.etag),
	}, nil
}

func TestS3Fetcher_ConditionalFetch(t *testing.T) {
	bucket := &fakeBucket{etag: `"e1"`, body: "version: 1\ntargets:\n  firefox: {}\n"}
	f := NewS3FetcherWithClient(bucket, S3Options{Bucket: "family", Key: "policy.yaml", Clock: testutil.FixedClock()})

	if f.Source() != "s3://family/policy.yaml" {
		t.Errorf("Source() = %q", f.Source())
	}

	first, err := f.Fetch(context.Background(), nil)
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if first.Status != curfew.FetchUpdated {
		t.Fatalf("Status = %v, want updated", first.Status)
	}
	if _, ok := first.Document.Targets["firefox"]; !ok {
		t.Errorf("document targets = %v", first.Document.Targets)
	}
	if bucket.inputs[0].IfNoneMatch != nil {
		t.Error("unconditional request set IfNoneMatch")
	}

	second, err := f.Fetch(context.Background(), first.Token)
	if err != nil {
		t.Fatalf("conditional Fetch() error = %v", err)
	}
	if second.Status != curfew.FetchUnchanged || second.Token.Validator != `"e1"` {
		t.Errorf("second = %v %q, want unchanged with retained validator", second.Status, second.Token.Validator)
	}
}

func TestS3Fetcher_Failures(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr error
	}{
		{name: "no such key", err: &types.NoSuchKey{}, wantErr: curfew.ErrNetworkPermanent},
		{name: "access denied", err: statusError(403), wantErr: curfew.ErrNetworkPermanent},
		{name: "slow down", err: statusError(503), wantErr: curfew.ErrNetworkTransient},
		{name: "connection reset", err: errors.New("connection reset by peer"), wantErr: curfew.ErrNetworkTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := NewS3FetcherWithClient(&fakeBucket{err: tt.err}, S3Options{Bucket: "b", Key: "k"})
			_, err := f.Fetch(context.Background(), nil)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Fetch() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewS3Fetcher_RefusesPlainEndpoint(t *testing.T) {
	_, err := NewS3Fetcher(context.Background(), S3Options{Bucket: "b", Key: "k", Endpoint: "http://minio.local"})
	if !errors.Is(err, curfew.ErrNetworkPermanent) {
		t.Errorf("NewS3Fetcher() error = %v, want ErrNetworkPermanent", err)
	}
}
