package audiostore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/crypto-fm/segment-service/internal/core"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSStore keeps artifacts in two JetStream object-store buckets, one per
// lifecycle area. Archiving copies into the archive bucket before removing
// from the current bucket, so a failure leaves the original artifact in place.
type NATSStore struct {
	current nats.ObjectStore
	archive nats.ObjectStore
	baseURL string
}

// NewNATSStore creates (or binds to) the current and archive buckets.
func NewNATSStore(
	jetstreamContext nats.JetStreamContext,
	currentBucket, archiveBucket, baseURL string,
) (*NATSStore, error) {
	current, currentErr := openBucket(jetstreamContext, currentBucket)
	if currentErr != nil {
		return nil, currentErr
	}

	archive, archiveErr := openBucket(jetstreamContext, archiveBucket)
	if archiveErr != nil {
		return nil, archiveErr
	}

	return &NATSStore{
		current: current,
		archive: archive,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}, nil
}

// openBucket uses a create-first approach, binding to the bucket when it
// already exists.
func openBucket(
	jetstreamContext nats.JetStreamContext,
	bucketName string,
) (nats.ObjectStore, error) {
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Segment audio artifacts (%s).", bucketName),
		TTL:         0,
		MaxBytes:    0,
		Storage:     nats.FileStorage,
		Replicas:    1,
		Placement:   nil,
		Metadata:    nil,
		Compression: false,
	})
	if err != nil {
		if errors.Is(err, jetstream.ErrBucketExists) {
			store, err = jetstreamContext.ObjectStore(bucketName)
			if err != nil {
				return nil, fmt.Errorf(
					"failed to bind to existing bucket '%s': %w",
					bucketName, err)
			}

			return store, nil
		}

		return nil, fmt.Errorf("failed to create bucket '%s': %w", bucketName, err)
	}

	return store, nil
}

// SaveCurrent uploads the audio into the current bucket.
func (n *NATSStore) SaveCurrent(
	_ context.Context,
	segmentID string,
	data []byte,
) (string, error) {
	location := CurrentLocation(segmentID)

	putErr := n.put(n.current, objectName(location), data)
	if putErr != nil {
		return "", putErr
	}

	return location, nil
}

// Open streams the artifact from whichever bucket its location names.
func (n *NATSStore) Open(_ context.Context, location string) (io.ReadCloser, error) {
	bucket := n.current
	if strings.HasPrefix(location, archivePrefix) {
		bucket = n.archive
	}

	obj, getErr := bucket.Get(objectName(location))
	if getErr != nil {
		if errors.Is(getErr, nats.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: audio %s", core.ErrNotFound, location)
		}

		return nil, fmt.Errorf("%w: failed to get object '%s': %w",
			core.ErrStorage, location, getErr)
	}

	return obj, nil
}

// Archive copies the artifact into the archive bucket and then removes it from
// the current bucket. Already-archived locations are returned unchanged.
func (n *NATSStore) Archive(_ context.Context, location string) (string, error) {
	if strings.HasPrefix(location, archivePrefix) {
		return location, nil
	}

	if !strings.HasPrefix(location, currentPrefix) {
		return "", fmt.Errorf("%w: %q", ErrBadLocation, location)
	}

	name := objectName(location)

	data, getErr := n.get(n.current, name)
	if getErr != nil {
		return "", getErr
	}

	putErr := n.put(n.archive, name, data)
	if putErr != nil {
		return "", putErr
	}

	deleteErr := n.current.Delete(name)
	if deleteErr != nil {
		return "", fmt.Errorf("%w: failed to remove '%s' from current bucket: %w",
			core.ErrStorage, name, deleteErr)
	}

	return archiveLocation(location), nil
}

// Delete removes the artifact from whichever bucket its location names.
// A missing object counts as already deleted.
func (n *NATSStore) Delete(_ context.Context, location string) error {
	bucket := n.current
	if strings.HasPrefix(location, archivePrefix) {
		bucket = n.archive
	}

	deleteErr := bucket.Delete(objectName(location))
	if deleteErr != nil && !errors.Is(deleteErr, nats.ErrObjectNotFound) {
		return fmt.Errorf("%w: failed to delete object '%s': %w",
			core.ErrStorage, location, deleteErr)
	}

	return nil
}

// URL returns the consumer-facing URL. The delivery endpoint streams the bytes
// out of the bucket; consumers never talk to NATS directly.
func (n *NATSStore) URL(location string) string {
	return n.baseURL + "/audio/" + location
}

func (n *NATSStore) put(bucket nats.ObjectStore, name string, data []byte) error {
	_, putErr := bucket.Put(&nats.ObjectMeta{
		Name:        name,
		Description: "",
		Headers:     nil,
		Metadata:    nil,
		Opts:        nil,
	}, bytes.NewReader(data))
	if putErr != nil {
		return fmt.Errorf("%w: failed to put object '%s': %w",
			core.ErrStorage, name, putErr)
	}

	return nil
}

func (n *NATSStore) get(bucket nats.ObjectStore, name string) ([]byte, error) {
	obj, getErr := bucket.Get(name)
	if getErr != nil {
		return nil, fmt.Errorf("%w: failed to get object '%s': %w",
			core.ErrStorage, name, getErr)
	}

	data, readErr := io.ReadAll(obj)

	closeErr := obj.Close()
	if readErr != nil {
		return nil, fmt.Errorf("%w: failed to read object '%s': %w",
			core.ErrStorage, name, readErr)
	}

	if closeErr != nil {
		return data, fmt.Errorf("%w: failed to close object '%s': %w",
			core.ErrStorage, name, closeErr)
	}

	return data, nil
}

// objectName strips the area prefix: buckets already encode the area.
func objectName(location string) string {
	name := strings.TrimPrefix(location, currentPrefix)

	return strings.TrimPrefix(name, archivePrefix)
}
