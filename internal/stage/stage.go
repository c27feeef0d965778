// Package stage resolves staged bulk-load files for warehouses that have no
// native stage object. Each store reports file metadata (size, etag) so the
// loader can skip files it already ingested.
package stage

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// FileMeta describes one staged file
type FileMeta struct {
	Name         string
	URI          string
	Size         int64
	ETag         string
	LastModified time.Time
}

// Store reads files below one stage location
type Store interface {
	// Location returns the stage URL the store was opened with
	Location() string
	// Stat returns metadata for name relative to the location
	Stat(ctx context.Context, name string) (FileMeta, error)
	// Fetch makes name available as a local file; cleanup removes any temporary copy
	Fetch(ctx context.Context, name string) (path string, cleanup func(), err error)
}

// Open returns a Store for location. Supported: s3://bucket/prefix/, file:///dir/ and plain paths.
func Open(ctx context.Context, location string) (Store, error) {
	if strings.HasPrefix(location, "s3://") {
		u, err := url.Parse(location)
		if err != nil {
			return nil, fmt.Errorf("stage URL 파싱 실패: %w", err)
		}
		if u.Host == "" {
			return nil, fmt.Errorf("stage URL에 버킷이 없습니다: %s", location)
		}
		return OpenS3(ctx, location, u.Host, strings.TrimPrefix(u.Path, "/"))
	}

	dir := strings.TrimPrefix(location, "file://")
	if dir == "" {
		return nil, fmt.Errorf("빈 stage URL")
	}
	return NewLocal(location, dir), nil
}
