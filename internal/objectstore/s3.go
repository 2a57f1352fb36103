package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/kiranshivaraju/twimagine/internal/coordinator"
	"github.com/kiranshivaraju/twimagine/internal/errs"
)

// putObjectAPI is the part of the S3 client the store uses.
type putObjectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type S3Options struct {
	Bucket string
	Region string
	// Endpoint targets an S3-compatible service such as MinIO; path-style
	// addressing is used when it is set.
	Endpoint      string
	PublicBaseURL string
}

// S3Store uploads objects with a public-read ACL.
type S3Store struct {
	client  putObjectAPI
	bucket  string
	baseURL string
}

var _ coordinator.ObjectStore = (*S3Store)(nil)

// NewS3Store loads AWS credentials from the default chain.
func NewS3Store(ctx context.Context, opts S3Options) (*S3Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("objectstore: bucket is required")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(opts.Region))
	if err != nil {
		return nil, fmt.Errorf("objectstore: load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return newS3Store(client, opts), nil
}

func newS3Store(client putObjectAPI, opts S3Options) *S3Store {
	base := strings.TrimRight(opts.PublicBaseURL, "/")
	switch {
	case base != "":
	case opts.Endpoint != "":
		base = strings.TrimRight(opts.Endpoint, "/") + "/" + opts.Bucket
	default:
		base = fmt.Sprintf("https://%s.s3.amazonaws.com", opts.Bucket)
	}
	return &S3Store{client: client, bucket: opts.Bucket, baseURL: base}
}

// Upload writes data under key, overwriting any previous object.
func (s *S3Store) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(cleanKey),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(contentType),
		ACL:           types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return "", classifyError(err)
	}
	return s.baseURL + "/" + cleanKey, nil
}

// classifyError treats throttling, server errors and anything that never got
// an HTTP response as transient.
func classifyError(err error) error {
	wrapped := fmt.Errorf("objectstore: put object: %w", err)
	if errors.Is(err, context.Canceled) {
		return wrapped
	}
	var re *awshttp.ResponseError
	if errors.As(err, &re) {
		status := re.HTTPStatusCode()
		if status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable || status >= http.StatusInternalServerError {
			return errs.Transient(wrapped)
		}
		return wrapped
	}
	return errs.Transient(wrapped)
}
