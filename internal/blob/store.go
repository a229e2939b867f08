// Package blob defines the job input/output object store collaborator
// (§6), grounded on the original job_repository module: pre-signed
// upload/download URLs, fixed object keys, and result tagging.
package blob

import (
	"context"
	"fmt"
	"time"
)

// Default pre-signed URL lifetimes, matching the original constants
// (UPLOAD_URL_EXPIRATION_TIME = 3h, DOWNLOAD_URL_EXPIRATION_TIME = 3m).
const (
	DefaultUploadURLExpiry   = 3 * time.Hour
	DefaultDownloadURLExpiry = 3 * time.Minute
)

// InputKey returns the object key for a job's input program.
func InputKey(jobID string) string { return fmt.Sprintf("%s.in.proto", jobID) }

// OutputKey returns the object key for a job's result object.
func OutputKey(jobID string) string { return fmt.Sprintf("%s.out.proto.gz", jobID) }

// ResultTags is the tag set applied to a completed job's result object.
type ResultTags struct {
	TokenRole    string
	SaveJob      bool
	UploadStatus string // always "complete" when set by PutResultTags
}

// Store is the blob store collaborator.
type Store interface {
	// BucketExists is checked once at JobManager construction.
	BucketExists(ctx context.Context) (bool, error)

	// UploadInput stores the serialized program under InputKey(jobID).
	UploadInput(ctx context.Context, jobID string, program []byte) error

	// DownloadInput retrieves the program previously stored by
	// UploadInput, used during startup recovery.
	DownloadInput(ctx context.Context, jobID string) ([]byte, error)

	// PresignUploadURL returns a pre-signed PUT URL for the job's result
	// object, valid for DefaultUploadURLExpiry.
	PresignUploadURL(ctx context.Context, jobID string) (url string, expiresAt time.Time, err error)

	// PresignDownloadURL returns a pre-signed GET URL for the job's result
	// object, valid for DefaultDownloadURLExpiry.
	PresignDownloadURL(ctx context.Context, jobID string) (url string, expiresAt time.Time, err error)

	// PutResultTags tags the result object once a job completes.
	PutResultTags(ctx context.Context, jobID string, tags ResultTags) error
}
