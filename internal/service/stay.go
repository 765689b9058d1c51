package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sakif/checkinn/internal/apperror"
	"github.com/sakif/checkinn/internal/locale"
	"github.com/sakif/checkinn/internal/model"
	"github.com/sakif/checkinn/internal/repository"
)

// DayLayout is the plain calendar-date form accepted for check-in and
// check-out.
const DayLayout = "2006-01-02"

// StayService is the CRUD layer over each user's stay list.
//
// Every mutation is a whole-list read-modify-write: load, change, save.
// Results are always ordered by check-in, oldest first, except SearchStays.
type StayService struct {
	mu     sync.Mutex
	repo   repository.StayRepository
	lang   locale.Language
	logger *slog.Logger
}

// NewStayService creates a StayService. lang controls the generated title
// of stays saved without one.
func NewStayService(repo repository.StayRepository, lang locale.Language, logger *slog.Logger) *StayService {
	return &StayService{repo: repo, lang: lang, logger: logger}
}

// ListStays returns the user's stays ordered by check-in.
func (s *StayService) ListStays(ctx context.Context, userID string) ([]model.Stay, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	stays := s.repo.LoadStays(ctx, userID)
	model.SortByCheckIn(stays)
	return stays, nil
}

// AddStay appends stay to the user's list and returns the stored version.
func (s *StayService) AddStay(ctx context.Context, userID string, stay model.Stay) (*model.Stay, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	normalized, err := s.normalize(stay)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stays := append(s.repo.LoadStays(ctx, userID), normalized)
	if err := s.repo.SaveStays(ctx, userID, stays); err != nil {
		return nil, fmt.Errorf("service/stay: saving stays: %w", err)
	}

	s.logger.Info("stay added",
		slog.String("userID", userID),
		slog.String("stayID", normalized.ID),
	)
	return &normalized, nil
}

// UpsertStay replaces the stay with the same id, or appends it when no such
// stay exists. Only the first match is replaced.
func (s *StayService) UpsertStay(ctx context.Context, userID string, stay model.Stay) (*model.Stay, error) {
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	normalized, err := s.normalize(stay)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stays := s.repo.LoadStays(ctx, userID)
	if i := slices.IndexFunc(stays, func(st model.Stay) bool { return st.ID == normalized.ID }); i >= 0 {
		stays[i] = normalized
	} else {
		stays = append(stays, normalized)
	}

	if err := s.repo.SaveStays(ctx, userID, stays); err != nil {
		return nil, fmt.Errorf("service/stay: saving stays: %w", err)
	}

	s.logger.Info("stay saved",
		slog.String("userID", userID),
		slog.String("stayID", normalized.ID),
	)
	return &normalized, nil
}

// DeleteStay removes every stay with the given id. Unknown ids are a no-op.
func (s *StayService) DeleteStay(ctx context.Context, userID, stayID string) error {
	if err := requireUser(userID); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stays := s.repo.LoadStays(ctx, userID)
	kept := slices.DeleteFunc(slices.Clone(stays), func(st model.Stay) bool { return st.ID == stayID })
	if len(kept) == len(stays) {
		return nil
	}

	if err := s.repo.SaveStays(ctx, userID, kept); err != nil {
		return fmt.Errorf("service/stay: saving stays: %w", err)
	}

	s.logger.Info("stay deleted",
		slog.String("userID", userID),
		slog.String("stayID", stayID),
	)
	return nil
}

// SearchStays returns the stays matching query, newest check-in first.
// A blank query returns every stay.
func (s *StayService) SearchStays(ctx context.Context, userID, query string) ([]model.Stay, error) {
	stays, err := s.ListStays(ctx, userID)
	if err != nil {
		return nil, err
	}

	matched := make([]model.Stay, 0, len(stays))
	for _, st := range stays {
		if st.Matches(query) {
			matched = append(matched, st)
		}
	}
	slices.Reverse(matched)
	return matched, nil
}

// Stats summarizes the user's stays as of now.
//
// Cities and Hotels count distinct non-empty city names and titles,
// compared case-insensitively. NextCheckIn is the earliest check-in on or
// after the start of today.
func (s *StayService) Stats(ctx context.Context, userID string, now time.Time) (*model.StayStats, error) {
	stays, err := s.ListStays(ctx, userID)
	if err != nil {
		return nil, err
	}

	stats := &model.StayStats{Stays: len(stays)}
	cities := make(map[string]struct{})
	hotels := make(map[string]struct{})
	today := model.StartOfDay(now)

	for _, st := range stays {
		stats.TotalDays += st.DayCount()
		if city := strings.ToLower(strings.TrimSpace(model.Deref(st.City))); city != "" {
			cities[city] = struct{}{}
		}
		if title := strings.ToLower(strings.TrimSpace(st.Title)); title != "" {
			hotels[title] = struct{}{}
		}
		// stays is sorted, so the first upcoming one is the earliest.
		if stats.NextCheckIn == nil && !st.CheckIn.Before(today) {
			next := st.CheckIn
			stats.NextCheckIn = &next
		}
	}

	stats.Cities = len(cities)
	stats.Hotels = len(hotels)
	stats.Years = float64(stats.TotalDays) / 365
	return stats, nil
}

// normalize trims the free-text fields, fills in a missing id and title,
// and checks the date order.
func (s *StayService) normalize(stay model.Stay) (model.Stay, error) {
	if stay.CheckIn.IsZero() {
		return model.Stay{}, apperror.ValidationFailed("checkIn", "check-in date is required")
	}
	if stay.CheckOut != nil && stay.CheckOut.Before(stay.CheckIn) {
		return model.Stay{}, apperror.ValidationFailed("checkOut", "check-out must not be before check-in")
	}

	stay.ID = strings.TrimSpace(stay.ID)
	if stay.ID == "" {
		stay.ID = uuid.NewString()
	}
	stay.City = model.NormalizePtr(stay.City)
	stay.Note = model.NormalizePtr(stay.Note)

	stay.Title = strings.TrimSpace(stay.Title)
	if stay.Title == "" {
		stay.Title = s.defaultTitle(stay)
	}
	return stay, nil
}

func (s *StayService) defaultTitle(stay model.Stay) string {
	if stay.City != nil {
		return *stay.City
	}
	if s.lang.IsJapanese() {
		return "滞在 " + stay.CheckIn.Format("2006/01/02")
	}
	return "Stay " + stay.CheckIn.Format("Jan 2, 2006")
}

func requireUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return apperror.ValidationFailed("userId", "user id is required")
	}
	return nil
}

// ParseDay parses a check-in or check-out date written either as a plain
// calendar day (2006-01-02, local midnight) or as an RFC 3339 timestamp.
func ParseDay(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.ParseInLocation(DayLayout, value, time.Local); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, apperror.ValidationFailed("date",
			fmt.Sprintf("invalid date %q: use YYYY-MM-DD", value))
	}
	return t, nil
}
