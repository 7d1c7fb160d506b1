/*
Package filestore keeps uploaded work schedules.

PURPOSE:
  The back office attaches the employee's work schedule (PDF, image or
  spreadsheet) to the VR leg of a month. The engine only keeps the URL;
  the bytes live here.

BACKENDS:
  Local  files under a directory, served by the API under /uploads
  S3     any S3-compatible bucket (AWS, MinIO, Backblaze B2)

KEYS:
  schedules/{employee_id}/{yyyy-mm}/{unix_nanos}-{file name}
*/
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/warp/benefits-engine/benefit"
)

// MaxScheduleSize bounds an uploaded schedule.
const MaxScheduleSize = 10 << 20

var ErrTooLarge = errors.New("file too large")

// Object is a stored file.
type Object struct {
	Key        string
	URL        string
	Size       int64
	UploadedAt time.Time
}

type Store interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) (Object, error)
}

var allowedContentTypes = map[string]bool{
	"application/pdf":          true,
	"image/png":                true,
	"image/jpeg":               true,
	"text/csv":                 true,
	"application/vnd.ms-excel": true,

	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet": true,
}

// CheckUpload rejects empty, oversized or unexpected files.
func CheckUpload(size int64, contentType string) error {
	if size <= 0 {
		return &benefit.ValidationError{Field: "file", Value: size, Reason: "is empty"}
	}
	if size > MaxScheduleSize {
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrTooLarge, size, MaxScheduleSize)
	}
	ct := strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
	if !allowedContentTypes[ct] {
		return &benefit.ValidationError{Field: "file", Value: contentType, Reason: "unsupported content type"}
	}
	return nil
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ScheduleKey builds the object key of a schedule upload.
func ScheduleKey(key benefit.Key, filename string, at time.Time) string {
	name := unsafeChars.ReplaceAllString(path.Base(filename), "_")
	name = strings.Trim(name, "._")
	if name == "" {
		name = "schedule"
	}
	return fmt.Sprintf("schedules/%s/%s/%d-%s",
		unsafeChars.ReplaceAllString(string(key.EmployeeID), "_"),
		key.Period, at.UnixNano(), name)
}

// cleanKey refuses keys that would escape the store root.
func cleanKey(key string) (string, error) {
	k := path.Clean("/" + strings.TrimSpace(key))[1:]
	if k == "" || k != strings.TrimPrefix(key, "/") {
		return "", fmt.Errorf("invalid object key %q", key)
	}
	return k, nil
}
