package stage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Local serves staged files from a directory
type Local struct {
	location string
	dir      string
}

// NewLocal creates a Local store rooted at dir
func NewLocal(location, dir string) *Local {
	return &Local{location: location, dir: dir}
}

// Location returns the stage URL
func (l *Local) Location() string {
	return l.location
}

// Stat hashes the file content; the hash acts as the etag
func (l *Local) Stat(ctx context.Context, name string) (FileMeta, error) {
	p := filepath.Join(l.dir, name)

	f, err := os.Open(p)
	if err != nil {
		return FileMeta{}, fmt.Errorf("stage 파일 열기 실패: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return FileMeta{}, fmt.Errorf("stage 파일 조회 실패: %w", err)
	}

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return FileMeta{}, fmt.Errorf("stage 파일 해시 실패: %w", err)
	}

	return FileMeta{
		Name:         name,
		URI:          p,
		Size:         info.Size(),
		ETag:         hex.EncodeToString(h.Sum(nil)),
		LastModified: info.ModTime().UTC(),
	}, nil
}

// Fetch returns the file path directly, nothing to clean up
func (l *Local) Fetch(ctx context.Context, name string) (string, func(), error) {
	p := filepath.Join(l.dir, name)
	if _, err := os.Stat(p); err != nil {
		return "", nil, fmt.Errorf("stage 파일 없음: %w", err)
	}
	return p, func() {}, nil
}
