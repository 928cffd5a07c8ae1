package session

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of the S3 client S3Store uses. *s3.Client
// satisfies it.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

const s3RecordSuffix = ".cbor"

// S3Store stores one encoded Record object per room.
//
// Example usage:
//
//	cfg, _ := config.LoadDefaultConfig(ctx)
//	store := session.NewS3Store(s3.NewFromConfig(cfg), "my-bucket", "rooms/")
type S3Store struct {
	client S3API
	bucket string
	prefix string
	now    func() time.Time
	closed atomic.Bool
}

// NewS3Store creates a new S3 room store. Room objects are written under
// prefix (e.g. "rooms/").
func NewS3Store(client S3API, bucket, prefix string) *S3Store {
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
		now:    time.Now,
	}
}

func (s *S3Store) key(roomID string) string {
	return s.prefix + url.PathEscape(roomID) + s3RecordSuffix
}

// Save uploads the room's record.
func (s *S3Store) Save(ctx context.Context, roomID string, state []byte, lastActivity time.Time) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}

	data, err := EncodeRecord(roomID, state, lastActivity, s.now())
	if err != nil {
		return err
	}

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(roomID)),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/cbor"),
		Metadata: map[string]string{
			"room-id":       url.PathEscape(roomID),
			"last-activity": lastActivity.UTC().Format(time.RFC3339Nano),
		},
	})
	if err != nil {
		return fmt.Errorf("s3 save %s: %w", roomID, err)
	}
	return nil
}

// Load downloads and decodes the room's record.
func (s *S3Store) Load(ctx context.Context, roomID string) ([]byte, time.Time, error) {
	if s.closed.Load() {
		return nil, time.Time{}, ErrStoreClosed
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(roomID)),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, time.Time{}, ErrRoomNotFound
		}
		return nil, time.Time{}, fmt.Errorf("s3 load %s: %w", roomID, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("s3 read %s: %w", roomID, err)
	}

	rec, err := DecodeRecord(data)
	if err != nil {
		return nil, time.Time{}, err
	}
	return rec.State, rec.LastActivityTime(), nil
}

// List returns the ids of every room object under the prefix.
func (s *S3Store) List(ctx context.Context) ([]string, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}

	var ids []string
	pager := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	for pager.HasMorePages() {
		page, err := pager.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3 list: %w", err)
		}
		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
			if !strings.HasSuffix(name, s3RecordSuffix) {
				continue
			}
			id, err := url.PathUnescape(strings.TrimSuffix(name, s3RecordSuffix))
			if err != nil {
				continue
			}
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes the room's object. S3 does not report missing keys on
// delete.
func (s *S3Store) Delete(ctx context.Context, roomID string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}

	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(roomID)),
	})
	if err != nil {
		return fmt.Errorf("s3 delete %s: %w", roomID, err)
	}
	return nil
}

// Close marks the store as closed.
func (s *S3Store) Close() error {
	s.closed.Store(true)
	return nil
}
