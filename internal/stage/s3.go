package stage

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3API is the subset of the S3 client the store needs
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	manager.DownloadAPIClient
}

// S3 serves staged files from a bucket prefix
type S3 struct {
	location string
	bucket   string
	prefix   string
	client   S3API
}

// OpenS3 creates an S3 store using the default AWS credential chain
func OpenS3(ctx context.Context, location, bucket, prefix string) (*S3, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("AWS 설정 로드 실패: %w", err)
	}
	return NewS3(s3.NewFromConfig(cfg), location, bucket, prefix), nil
}

// NewS3 creates an S3 store over client
func NewS3(client S3API, location, bucket, prefix string) *S3 {
	return &S3{
		location: location,
		bucket:   bucket,
		prefix:   prefix,
		client:   client,
	}
}

// Location returns the stage URL
func (s *S3) Location() string {
	return s.location
}

func (s *S3) key(name string) string {
	return path.Join(s.prefix, name)
}

// Stat issues a HeadObject for name
func (s *S3) Stat(ctx context.Context, name string) (FileMeta, error) {
	key := s.key(name)
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return FileMeta{}, fmt.Errorf("s3://%s/%s 조회 실패: %w", s.bucket, key, err)
	}

	meta := FileMeta{
		Name: name,
		URI:  fmt.Sprintf("s3://%s/%s", s.bucket, key),
		Size: aws.ToInt64(out.ContentLength),
		ETag: strings.Trim(aws.ToString(out.ETag), `"`),
	}
	if out.LastModified != nil {
		meta.LastModified = out.LastModified.UTC()
	}
	return meta, nil
}

// Fetch downloads name into a temporary file
func (s *S3) Fetch(ctx context.Context, name string) (string, func(), error) {
	tmp, err := os.CreateTemp("", "setl-stage-*"+filepath.Ext(name))
	if err != nil {
		return "", nil, fmt.Errorf("임시 파일 생성 실패: %w", err)
	}
	cleanup := func() { os.Remove(tmp.Name()) }

	downloader := manager.NewDownloader(s.client)
	_, err = downloader.Download(ctx, tmp, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(name)),
	})
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("s3://%s/%s 다운로드 실패: %w", s.bucket, s.key(name), err)
	}

	return tmp.Name(), cleanup, nil
}
