// Package s3input fetches run input from S3 so it can be piped to a child's
// stdin.
package s3input

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// Location addresses one S3 object.
type Location struct {
	Bucket  string
	Key     string
	Version string
	// ETag, when set, must match the fetched object.
	ETag string
}

// IsURI reports whether v looks like an s3:// URI.
func IsURI(v string) bool {
	return strings.HasPrefix(v, "s3://")
}

// ParseURI parses s3://bucket/key[?versionId=v&etag=e].
//
//	loc, err := s3input.ParseURI("s3://inputs/batch/42.csv")
func ParseURI(v string) (Location, error) {
	u, err := url.Parse(v)
	if err != nil {
		return Location{}, fmt.Errorf("s3input: parse %q: %w", v, err)
	}
	if u.Scheme != "s3" || u.Host == "" {
		return Location{}, fmt.Errorf("s3input: %q is not an s3://bucket/key URI", v)
	}
	key := strings.TrimPrefix(u.Path, "/")
	if key == "" {
		return Location{}, fmt.Errorf("s3input: %q has no object key", v)
	}
	q := u.Query()
	return Location{Bucket: u.Host, Key: key, Version: q.Get("versionId"), ETag: q.Get("etag")}, nil
}

// Fetcher reads objects from S3.
type Fetcher struct {
	client *s3.Client
	logger *slog.Logger
}

// NewFetcher creates a Fetcher from an AWS config. An endpoint override
// switches to path-style addressing so S3-compatible stores work; nil
// httpClient uses the transport from awsCfg.
//
//	f := s3input.NewFetcher(cfg, "us-east-1", "", false, nil, slog.Default())
//	data, err := f.Fetch(ctx, loc)
func NewFetcher(awsCfg aws.Config, region, endpointOverride string, useFIPS bool, httpClient *http.Client, logger *slog.Logger) *Fetcher {
	opts := func(o *s3.Options) {
		o.Region = region
		if endpointOverride != "" {
			o.BaseEndpoint = aws.String(endpointOverride)
			o.UsePathStyle = true
		} else if useFIPS {
			o.BaseEndpoint = aws.String(fmt.Sprintf("https://s3-fips.%s.amazonaws.com", region))
		}
		if httpClient != nil {
			o.HTTPClient = httpClient
		}
	}

	return &Fetcher{
		client: s3.NewFromConfig(awsCfg, opts),
		logger: logger,
	}
}

// Fetch downloads the object at loc into memory.
func (f *Fetcher) Fetch(ctx context.Context, loc Location) ([]byte, error) {
	f.logger.Info("fetching input", "bucket", loc.Bucket, "key", loc.Key, "version", loc.Version)

	input := &s3.GetObjectInput{
		Bucket: aws.String(loc.Bucket),
		Key:    aws.String(loc.Key),
	}
	if loc.Version != "" {
		input.VersionId = aws.String(loc.Version)
	}

	output, err := f.client.GetObject(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("s3input: GetObject %s/%s: %w", loc.Bucket, loc.Key, err)
	}
	defer func() { _ = output.Body.Close() }()

	data, err := io.ReadAll(output.Body)
	if err != nil {
		return nil, fmt.Errorf("s3input: read %s/%s: %w", loc.Bucket, loc.Key, err)
	}

	if loc.ETag != "" && output.ETag != nil {
		actual := strings.Trim(*output.ETag, `"`)
		expected := strings.Trim(loc.ETag, `"`)
		if actual != expected {
			return nil, fmt.Errorf("s3input: ETag mismatch: expected %q, got %q", expected, actual)
		}
	}

	f.logger.Info("input fetched", "bucket", loc.Bucket, "key", loc.Key, "bytes", len(data))
	return data, nil
}
