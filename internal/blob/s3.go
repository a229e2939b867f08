package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
)

// S3Store implements Store against AWS S3, the production blob-store
// backend. Input objects are uploaded with Content-Type:
// application/protobuf; the presigned result upload carries
// Content-Encoding: gzip, matching §6.
type S3Store struct {
	client *s3.S3
	bucket string
	clock  func() time.Time
}

// NewS3Store constructs a store bound to bucket.
func NewS3Store(sess *session.Session, bucket string, now func() time.Time) *S3Store {
	if now == nil {
		now = time.Now
	}
	return &S3Store{client: s3.New(sess), bucket: bucket, clock: now}
}

func (s *S3Store) BucketExists(ctx context.Context) (bool, error) {
	_, err := s.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *S3Store) UploadInput(ctx context.Context, jobID string, program []byte) error {
	_, err := s.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(InputKey(jobID)),
		Body:        bytes.NewReader(program),
		ContentType: aws.String("application/protobuf"),
	})
	return err
}

func (s *S3Store) DownloadInput(ctx context.Context, jobID string) ([]byte, error) {
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(InputKey(jobID)),
	})
	if err != nil {
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func (s *S3Store) PresignUploadURL(ctx context.Context, jobID string) (string, time.Time, error) {
	req, _ := s.client.PutObjectRequest(&s3.PutObjectInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(OutputKey(jobID)),
		ContentEncoding: aws.String("gzip"),
	})
	url, err := req.Presign(DefaultUploadURLExpiry)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("blob: presign upload url: %w", err)
	}
	return url, s.clock().Add(DefaultUploadURLExpiry), nil
}

func (s *S3Store) PresignDownloadURL(ctx context.Context, jobID string) (string, time.Time, error) {
	req, _ := s.client.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(OutputKey(jobID)),
	})
	url, err := req.Presign(DefaultDownloadURLExpiry)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("blob: presign download url: %w", err)
	}
	return url, s.clock().Add(DefaultDownloadURLExpiry), nil
}

func (s *S3Store) PutResultTags(ctx context.Context, jobID string, tags ResultTags) error {
	uploadStatus := "complete"
	_, err := s.client.PutObjectTaggingWithContext(ctx, &s3.PutObjectTaggingInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(OutputKey(jobID)),
		Tagging: &s3.Tagging{
			TagSet: []*s3.Tag{
				{Key: aws.String("token_role"), Value: aws.String(tags.TokenRole)},
				{Key: aws.String("save_job"), Value: aws.String(fmt.Sprintf("%v", tags.SaveJob))},
				{Key: aws.String("upload-status"), Value: aws.String(uploadStatus)},
			},
		},
	})
	return err
}
