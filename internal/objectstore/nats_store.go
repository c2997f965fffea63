// Package objectstore provides the NATS JetStream object store used both for request
// payloads and as the primary storage tier for finished narrations.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/book-expert/narration-service/internal/audio"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	natsURLScheme     = "nats://"
	headerContentType = "Content-Type"
)

// ErrNotConnected is returned when the store was never bound to a bucket.
var ErrNotConnected = errors.New("object store not connected")

// NatsObjectStore implements core.ObjectStore and the primary storage tier on top of a
// JetStream object store bucket.
type NatsObjectStore struct {
	bucket        string
	publicBaseURL string
	store         nats.ObjectStore
}

// Option configures a NatsObjectStore.
type Option func(*NatsObjectStore)

// WithPublicBaseURL sets the HTTP gateway prefix used to build returned URLs. Without it
// URLs take the form nats://bucket/key.
func WithPublicBaseURL(baseURL string) Option {
	return func(n *NatsObjectStore) {
		n.publicBaseURL = strings.TrimSuffix(baseURL, "/")
	}
}

// New creates the bucket, or binds to it when it already exists.
func New(jetstreamContext nats.JetStreamContext, bucketName string, opts ...Option) (*NatsObjectStore, error) {
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Storage for the %s bucket.", bucketName),
		TTL:         0,
		MaxBytes:    0,
		Storage:     nats.FileStorage,
		Replicas:    1,
		Placement:   nil,
		Metadata:    nil,
		Compression: false,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucketName, err)
		}

		store, err = jetstreamContext.ObjectStore(bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", bucketName, err)
		}
	}

	objectStore := &NatsObjectStore{
		bucket: bucketName,
		store:  store,
	}

	for _, opt := range opts {
		opt(objectStore)
	}

	return objectStore, nil
}

// Download retrieves an object from the bucket.
func (n *NatsObjectStore) Download(ctx context.Context, key string) ([]byte, error) {
	if n == nil || n.store == nil {
		return nil, ErrNotConnected
	}

	obj, err := n.store.Get(key, nats.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", key, n.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", key, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("failed to close object '%s': %w", key, closeErr)
	}

	return data, nil
}

// Upload saves raw bytes under key.
func (n *NatsObjectStore) Upload(ctx context.Context, key string, data []byte) error {
	return n.put(ctx, key, data, nil)
}

// Tier identifies this store as the primary storage tier.
func (n *NatsObjectStore) Tier() core.Tier {
	return core.TierPrimary
}

// Available reports whether the store is bound to a bucket.
func (n *NatsObjectStore) Available() bool {
	return n != nil && n.store != nil
}

// Store saves a finished artifact under destination's folder and returns its URL.
func (n *NatsObjectStore) Store(
	ctx context.Context,
	artifact *audio.Artifact,
	destination core.Destination,
	fileName string,
) (string, error) {
	key := ObjectKey(destination, fileName)
	headers := nats.Header{headerContentType: []string{artifact.Format.MIMEType()}}

	err := n.put(ctx, key, artifact.Data, headers)
	if err != nil {
		return "", err
	}

	return n.URL(key), nil
}

// URL returns the reference handed out for key.
func (n *NatsObjectStore) URL(key string) string {
	escaped := escapePath(key)

	if n.publicBaseURL != "" {
		return n.publicBaseURL + "/" + url.PathEscape(n.bucket) + "/" + escaped
	}

	return natsURLScheme + n.bucket + "/" + escaped
}

// ObjectKey joins the destination folder and file name into an object key.
func ObjectKey(destination core.Destination, fileName string) string {
	folder := destination.CleanFolder()
	if folder == "" {
		return fileName
	}

	return path.Join(folder, fileName)
}

func (n *NatsObjectStore) put(ctx context.Context, key string, data []byte, headers nats.Header) error {
	if !n.Available() {
		return ErrNotConnected
	}

	_, err := n.store.Put(&nats.ObjectMeta{
		Name:        key,
		Description: "",
		Headers:     headers,
		Metadata:    nil,
		Opts:        nil,
	}, bytes.NewReader(data), nats.Context(ctx))
	if err != nil {
		return fmt.Errorf("failed to put object '%s' to bucket '%s': %w", key, n.bucket, err)
	}

	return nil
}

func escapePath(key string) string {
	segments := strings.Split(key, "/")
	for index, segment := range segments {
		segments[index] = url.PathEscape(segment)
	}

	return strings.Join(segments, "/")
}
