package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
)

const archiveScheme = "gs://"

var (
	// ErrObjectNotFound is returned when an archived object does not exist.
	ErrObjectNotFound = errors.New("storage: object not found")

	errInvalidBucket = errors.New("storage: bucket name is required")
	errInvalidObject = errors.New("storage: object name is required")
)

// objectStore is the subset of Cloud Storage the archive needs.
type objectStore interface {
	write(ctx context.Context, bucket, object, contentType string, data []byte) error
	read(ctx context.Context, bucket, object string) ([]byte, error)
}

// Archive stores dead-lettered webhook payloads in a bucket under a dated prefix.
type Archive struct {
	store  objectStore
	bucket string
	prefix string
	now    func() time.Time
}

// ArchiveOption customises the archive.
type ArchiveOption func(*Archive)

// WithArchivePrefix overrides the object prefix (defaults to "webhooks/dead-letters").
func WithArchivePrefix(prefix string) ArchiveOption {
	return func(a *Archive) {
		if p := strings.Trim(strings.TrimSpace(prefix), "/"); p != "" {
			a.prefix = p
		}
	}
}

// WithArchiveClock injects a custom clock (useful for tests).
func WithArchiveClock(clock func() time.Time) ArchiveOption {
	return func(a *Archive) {
		if clock != nil {
			a.now = clock
		}
	}
}

// NewArchive constructs an Archive backed by a Cloud Storage client.
func NewArchive(client *gcs.Client, bucket string, opts ...ArchiveOption) (*Archive, error) {
	if client == nil {
		return nil, errors.New("storage archive: client is required")
	}
	return newArchive(gcsObjects{client: client}, bucket, opts...)
}

func newArchive(store objectStore, bucket string, opts ...ArchiveOption) (*Archive, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errInvalidBucket
	}
	a := &Archive{
		store:  store,
		bucket: bucket,
		prefix: "webhooks/dead-letters",
		now:    time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a, nil
}

// Put writes data as a JSON object and returns its gs:// reference.
func (a *Archive) Put(ctx context.Context, name string, data []byte) (string, error) {
	fileName, err := validateFileName(name)
	if err != nil {
		return "", err
	}
	object := fmt.Sprintf("%s/%s/%s", a.prefix, a.now().UTC().Format("2006/01/02"), fileName)
	if err := a.store.write(ctx, a.bucket, object, "application/json", data); err != nil {
		return "", fmt.Errorf("storage archive: write %s: %w", object, err)
	}
	return archiveScheme + a.bucket + "/" + object, nil
}

// Get reads an object previously returned by Put.
func (a *Archive) Get(ctx context.Context, ref string) ([]byte, error) {
	bucket, object, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}
	data, err := a.store.read(ctx, bucket, object)
	if err != nil {
		return nil, fmt.Errorf("storage archive: read %s: %w", ref, err)
	}
	return data, nil
}

// ParseRef splits a gs://bucket/object reference.
func ParseRef(ref string) (string, string, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(ref), archiveScheme)
	if !ok {
		return "", "", fmt.Errorf("storage: reference %q must start with %s", ref, archiveScheme)
	}
	bucket, object, ok := strings.Cut(rest, "/")
	if !ok || bucket == "" {
		return "", "", errInvalidBucket
	}
	if object == "" || strings.Contains(object, "..") {
		return "", "", errInvalidObject
	}
	return bucket, object, nil
}

type gcsObjects struct {
	client *gcs.Client
}

func (g gcsObjects) write(ctx context.Context, bucket, object, contentType string, data []byte) error {
	w := g.client.Bucket(bucket).Object(object).If(gcs.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

func (g gcsObjects) read(ctx context.Context, bucket, object string) ([]byte, error) {
	r, err := g.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, ErrObjectNotFound
		}
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func validateFileName(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", errInvalidObject
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: file name %q contains invalid path characters", value)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: file name %q contains invalid traversal sequence", value)
	}
	return value, nil
}
