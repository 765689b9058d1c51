package blob

import (
	"context"
	"log/slog"
	"slices"

	"github.com/sakif/checkinn/internal/model"
	"github.com/sakif/checkinn/internal/repository"
)

var _ repository.StayRepository = (*StayStore)(nil)

// StayStore keeps one JSON array of stays per user.
type StayStore struct {
	blobs  repository.BlobStore
	logger *slog.Logger
}

func NewStayStore(blobs repository.BlobStore, logger *slog.Logger) *StayStore {
	return &StayStore{blobs: blobs, logger: logger}
}

// LoadStays returns the user's stays, or an empty slice if there are none
// or the document is unreadable.
func (s *StayStore) LoadStays(ctx context.Context, userID string) []model.Stay {
	stays, _ := load[[]model.Stay](ctx, s.blobs, s.logger, repository.StaysKey(userID))
	if stays == nil {
		return []model.Stay{}
	}
	return stays
}

// SaveStays writes the list ordered by check-in. Stays sharing a check-in
// keep the order they were given in.
func (s *StayStore) SaveStays(ctx context.Context, userID string, stays []model.Stay) error {
	sorted := slices.Clone(stays)
	if sorted == nil {
		sorted = []model.Stay{}
	}
	model.SortByCheckIn(sorted)
	return save(ctx, s.blobs, repository.StaysKey(userID), sorted)
}
