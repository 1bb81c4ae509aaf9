package gcp

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

// Upload retry settings.
var (
	uploadRetries = 4
	uploadBackoff = 1 * time.Second
	uploadTimeout = 50 * time.Second
)

// GCSUri formats a gs:// URI.
func GCSUri(bucket, object string) string {
	return fmt.Sprintf("gs://%s/%s", bucket, object)
}

// ParseGCSUri splits a gs://bucket/object URI.
func ParseGCSUri(uri string) (bucket, object string, err error) {
	rest, ok := strings.CutPrefix(uri, "gs://")
	if !ok {
		return "", "", fmt.Errorf("not a gs:// URI: %q", uri)
	}
	bucket, object, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || object == "" {
		return "", "", fmt.Errorf("gs:// URI must name a bucket and an object: %q", uri)
	}
	return bucket, object, nil
}

// ObjectStore reads uploads from and writes results to Cloud Storage.
type ObjectStore struct {
	client *storage.Client
}

// NewObjectStore creates a Cloud Storage client using application default credentials.
func NewObjectStore(ctx context.Context) (*ObjectStore, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	return &ObjectStore{client: client}, nil
}

// Read downloads an object and returns its content and stored content type.
func (s *ObjectStore) Read(ctx context.Context, bucket, object string) ([]byte, string, error) {
	reader, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to get GCS object reader for %s: %w", GCSUri(bucket, object), err)
	}
	defer reader.Close()

	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read GCS object %s: %w", GCSUri(bucket, object), err)
	}
	return content, reader.Attrs.ContentType, nil
}

// Save writes content once, retrying failed uploads with doubling backoff.
// An object that already exists is left untouched.
func (s *ObjectStore) Save(ctx context.Context, bucket, object, contentType string, content []byte) error {
	backoff := uploadBackoff
	var lastErr error

	for i := 0; i < uploadRetries; i++ {
		err := func() error {
			writeCtx, cancel := context.WithTimeout(ctx, uploadTimeout)
			defer cancel()
			return SaveToGCSAtomically(writeCtx, s.client.Bucket(bucket), object, contentType, content)
		}()
		if err == nil {
			return nil
		}

		lastErr = err
		slog.Warn(
			"Upload failed, will retry.",
			"gcsObject", object,
			"attempt", i+1,
			"maxRetries", uploadRetries,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			slog.Error("Context cancelled during backoff. Aborting retries.", "gcsObject", object, "error", ctx.Err())
			return ctx.Err()
		}
	}
	slog.Error("Upload failed after all retries.", "gcsObject", object, "error", lastErr)
	return fmt.Errorf("upload for %s failed after all retries: %w", object, lastErr)
}

// SignedURL returns a V4 GET URL for an object that downloads as fileName.
func (s *ObjectStore) SignedURL(bucket, object, fileName string, ttl time.Duration) (string, error) {
	opts := &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(ttl),
		QueryParameters: url.Values{
			"response-content-disposition": {mime.FormatMediaType("attachment", map[string]string{"filename": fileName})},
		},
	}
	u, err := s.client.Bucket(bucket).SignedURL(object, opts)
	if err != nil {
		return "", fmt.Errorf("failed to sign URL for %s: %w", GCSUri(bucket, object), err)
	}
	return u, nil
}

// Close releases the underlying client.
func (s *ObjectStore) Close() error {
	return s.client.Close()
}

// SaveToGCSAtomically writes content to a GCS object only if it doesn't already exist.
func SaveToGCSAtomically(ctx context.Context, bucket *storage.BucketHandle, objectName, contentType string, content []byte) error {
	writer := bucket.Object(objectName).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	writer.ContentType = contentType

	if _, err := io.Copy(writer, bytes.NewReader(content)); err != nil {
		_ = writer.Close()
		if isPreconditionFailed(err) {
			slog.Info("Object already exists. Skipping.", "gcsObject", objectName)
			return nil
		}
		return fmt.Errorf("failed to write to GCS: %w", err)
	}

	if err := writer.Close(); err != nil {
		if isPreconditionFailed(err) {
			slog.Info("Object already exists. Skipping.", "gcsObject", objectName)
			return nil
		}
		return fmt.Errorf("failed to finalize GCS write: %w", err)
	}
	return nil
}
