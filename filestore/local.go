package filestore

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Local writes objects below Dir and hands out URLs under BaseURL.
type Local struct {
	Dir     string
	BaseURL string
	Now     func() time.Time
}

var _ Store = (*Local)(nil)

func NewLocal(dir, baseURL string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Local{Dir: dir, BaseURL: strings.TrimRight(baseURL, "/"), Now: time.Now}, nil
}

func (l *Local) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (Object, error) {
	k, err := cleanKey(key)
	if err != nil {
		return Object{}, err
	}
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}

	dst := filepath.Join(l.Dir, filepath.FromSlash(k))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return Object{}, err
	}

	// Write to a temp file so a failed upload never leaves a partial object.
	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return Object{}, err
	}
	defer os.Remove(tmp.Name())

	n, err := io.Copy(tmp, io.LimitReader(r, MaxScheduleSize+1))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return Object{}, fmt.Errorf("write %s: %w", k, err)
	}
	if n > MaxScheduleSize {
		return Object{}, ErrTooLarge
	}
	if size > 0 && n != size {
		return Object{}, fmt.Errorf("write %s: got %d bytes, expected %d", k, n, size)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return Object{}, err
	}

	return Object{Key: k, URL: l.BaseURL + "/" + k, Size: n, UploadedAt: l.Now().UTC()}, nil
}
