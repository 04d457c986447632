package audiostore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/crypto-fm/segment-service/internal/core"
)

const s3ContentType = "audio/mpeg"

// S3Store keeps artifacts in one S3 bucket with current/ and archive/ key
// prefixes. S3 has no rename, so archiving is copy-then-delete; a copy failure
// leaves the segment referencing the original key.
type S3Store struct {
	s3Svc  s3iface.S3API
	bucket string
}

// NewS3Store creates an S3-backed artifact store.
func NewS3Store(s3Svc s3iface.S3API, bucket string) *S3Store {
	return &S3Store{
		s3Svc:  s3Svc,
		bucket: bucket,
	}
}

// SaveCurrent uploads the audio under the current/ prefix.
func (s *S3Store) SaveCurrent(
	ctx context.Context,
	segmentID string,
	data []byte,
) (string, error) {
	location := CurrentLocation(segmentID)

	putInput := &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(location),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(s3ContentType),
	}

	_, putErr := s.s3Svc.PutObjectWithContext(ctx, putInput)
	if putErr != nil {
		return "", fmt.Errorf("%w: failed to upload audio %s: %w",
			core.ErrStorage, location, putErr)
	}

	return location, nil
}

// Open streams the object at a location.
func (s *S3Store) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	getInput := &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(location),
	}

	output, getErr := s.s3Svc.GetObjectWithContext(ctx, getInput)
	if getErr != nil {
		var awsErr awserr.Error
		if errors.As(getErr, &awsErr) && awsErr.Code() == s3.ErrCodeNoSuchKey {
			return nil, fmt.Errorf("%w: audio %s", core.ErrNotFound, location)
		}

		return nil, fmt.Errorf("%w: failed to get audio %s: %w",
			core.ErrStorage, location, getErr)
	}

	return output.Body, nil
}

// Archive copies the object under the archive/ prefix, then deletes the
// current/ object. Already-archived locations are returned unchanged.
func (s *S3Store) Archive(ctx context.Context, location string) (string, error) {
	if strings.HasPrefix(location, archivePrefix) {
		return location, nil
	}

	if !strings.HasPrefix(location, currentPrefix) {
		return "", fmt.Errorf("%w: %q", ErrBadLocation, location)
	}

	newLocation := archiveLocation(location)

	copyInput := &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		CopySource: aws.String(s.bucket + "/" + location),
		Key:        aws.String(newLocation),
	}

	_, copyErr := s.s3Svc.CopyObjectWithContext(ctx, copyInput)
	if copyErr != nil {
		return "", fmt.Errorf("%w: failed to archive %s: %w",
			core.ErrStorage, location, copyErr)
	}

	deleteInput := &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(location),
	}

	_, deleteErr := s.s3Svc.DeleteObjectWithContext(ctx, deleteInput)
	if deleteErr != nil {
		return "", fmt.Errorf("%w: failed to remove %s after archiving: %w",
			core.ErrStorage, location, deleteErr)
	}

	return newLocation, nil
}

// Delete removes the object. A missing key counts as already deleted.
func (s *S3Store) Delete(ctx context.Context, location string) error {
	deleteInput := &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(location),
	}

	_, deleteErr := s.s3Svc.DeleteObjectWithContext(ctx, deleteInput)
	if deleteErr != nil {
		var awsErr awserr.Error
		if errors.As(deleteErr, &awsErr) && awsErr.Code() == s3.ErrCodeNoSuchKey {
			return nil
		}

		return fmt.Errorf("%w: failed to delete audio %s: %w",
			core.ErrStorage, location, deleteErr)
	}

	return nil
}

// URL returns the public object URL for the bucket.
func (s *S3Store) URL(location string) string {
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.bucket, location)
}
