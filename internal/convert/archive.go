package convert

import (
	"context"

	apperrors "github.com/mp3forge/backend/internal/errors"
	"github.com/mp3forge/backend/internal/job"
	"github.com/mp3forge/backend/internal/storage"
)

// Archiver mirrors a converted file into durable storage.
type Archiver interface {
	ArchiveFile(ctx context.Context, jobID string, f *job.File) error
}

// ArtifactArchiver uploads converted MP3s to object storage under a
// per-job prefix.
type ArtifactArchiver struct {
	store *storage.Client
}

// NewArtifactArchiver creates an archiver over a storage client.
func NewArtifactArchiver(store *storage.Client) *ArtifactArchiver {
	return &ArtifactArchiver{store: store}
}

// ArchiveFile uploads one converted file, retrying transient storage
// failures.
func (a *ArtifactArchiver) ArchiveFile(ctx context.Context, jobID string, f *job.File) error {
	key := storage.ArtifactKey(jobID, f.OutputName)
	return apperrors.Retry(ctx, apperrors.StorageRetryConfig(), func(ctx context.Context) error {
		return a.store.PutFile(ctx, key, f.OutputPath, "audio/mpeg")
	})
}
