package corpus

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/klauspost/compress/zstd"
	gzip "github.com/klauspost/pgzip"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// ObjectGetter is the part of the S3 client Open needs.
type ObjectGetter interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config holds the settings for an S3 compatible object store.
type S3Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
}

// NewS3Client creates a client for the configured store. Without an access
// key the default AWS credential chain is used.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// Open returns a reader for location, which is either a local path or an
// s3://bucket/key URL. gzip and zstd input is decompressed transparently,
// detected by its magic bytes. objects may be nil when no S3 location is
// used.
func Open(ctx context.Context, location string, objects ObjectGetter) (io.ReadCloser, error) {
	var src io.ReadCloser
	if bucket, key, ok := splitS3(location); ok {
		if objects == nil {
			return nil, fmt.Errorf("open %s: no object store configured", location)
		}
		out, err := objects.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(bucket), Key: aws.String(key)})
		if err != nil {
			return nil, fmt.Errorf("get %s: %w", location, err)
		}
		src = out.Body
	} else {
		f, err := os.Open(location)
		if err != nil {
			return nil, err
		}
		src = f
	}
	rc, err := decompress(src)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("open %s: %w", location, err)
	}
	return rc, nil
}

// IsRemote reports whether location names an object store key.
func IsRemote(location string) bool {
	_, _, ok := splitS3(location)
	return ok
}

func splitS3(location string) (bucket, key string, ok bool) {
	rest, found := strings.CutPrefix(location, "s3://")
	if !found {
		return "", "", false
	}
	bucket, key, found = strings.Cut(rest, "/")
	if !found || bucket == "" || key == "" {
		return "", "", false
	}
	return bucket, key, true
}

func decompress(src io.ReadCloser) (io.ReadCloser, error) {
	br := bufio.NewReaderSize(src, 64*1024)
	head, err := br.Peek(4)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	switch {
	case bytes.HasPrefix(head, gzipMagic):
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, err
		}
		return &stackedReader{Reader: zr, closers: []func() error{zr.Close, src.Close}}, nil
	case bytes.HasPrefix(head, zstdMagic):
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, err
		}
		return &stackedReader{Reader: zr, closers: []func() error{func() error { zr.Close(); return nil }, src.Close}}, nil
	default:
		return &stackedReader{Reader: br, closers: []func() error{src.Close}}, nil
	}
}

// stackedReader closes a decompressor and the source beneath it.
type stackedReader struct {
	io.Reader
	closers []func() error
}

func (s *stackedReader) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
