package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"watchy/internal/domain"
	"watchy/internal/repository"
)

const (
	keyMagnetIDs       = "magnetIdMap"
	keyDownloadHistory = "downloadHistory"
	keyWatchHistory    = "history"
	keySavedSearches   = "savedSearches"
	keySavedMagnets    = "savedMagnets"
)

// ErrMissingMagnetTitle rejects history writes that carry no magnet title.
var ErrMissingMagnetTitle = errors.New("download history entry requires a magnet title")

// ErrAlreadySaved rejects a saved search or magnet that is already in the library.
var ErrAlreadySaved = errors.New("already in library")

// ErrEmptyLibraryItem rejects a saved search without a query or a saved magnet without a locator.
var ErrEmptyLibraryItem = errors.New("library item has no query or magnet")

// LibraryService owns the store backed state: the magnet id cache, the
// download and watch histories and the saved searches and magnets.
type LibraryService interface {
	MagnetID(ctx context.Context, hash string) (string, bool, error)
	SetMagnetID(ctx context.Context, hash, id string) error

	DownloadHistory(ctx context.Context) ([]domain.DownloadHistoryEntry, error)
	AddDownloadHistory(ctx context.Context, entry domain.DownloadHistoryEntry) error
	RemoveDownloadHistory(ctx context.Context, id string) error
	ClearDownloadHistory(ctx context.Context) error

	RecordPlay(ctx context.Context, magnetHash, magnetTitle, filename, streamURL string) error
	WatchHistory(ctx context.Context) ([]domain.WatchHistoryEntry, error)
	RemoveWatchEntry(ctx context.Context, id string) error
	ClearWatchHistory(ctx context.Context) error
	ResetFileWatched(ctx context.Context, entryID, filename string) error

	SavedSearches(ctx context.Context) ([]domain.SavedSearch, error)
	AddSavedSearch(ctx context.Context, query string) (domain.SavedSearch, error)
	RemoveSavedSearch(ctx context.Context, id string) error

	SavedMagnets(ctx context.Context) ([]domain.SavedMagnet, error)
	AddSavedMagnet(ctx context.Context, item domain.SavedMagnet) (domain.SavedMagnet, error)
	RemoveSavedMagnet(ctx context.Context, id string) error
}

type libraryService struct {
	store repository.KVStore
	now   func() time.Time
	// serializes read-modify-write cycles on the store
	mu sync.Mutex
}

func NewLibraryService(store repository.KVStore) LibraryService {
	return &libraryService{
		store: store,
		now:   time.Now,
	}
}

func (s *libraryService) load(ctx context.Context, key string, dst any) error {
	raw, ok, err := s.store.Get(ctx, key)
	if err != nil {
		return err
	}
	if !ok || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func (s *libraryService) save(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.store.Set(ctx, key, raw)
}

func (s *libraryService) MagnetID(ctx context.Context, hash string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := map[string]string{}
	if err := s.load(ctx, keyMagnetIDs, &ids); err != nil {
		return "", false, err
	}
	id, ok := ids[hash]
	return id, ok && id != "", nil
}

func (s *libraryService) SetMagnetID(ctx context.Context, hash, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := map[string]string{}
	if err := s.load(ctx, keyMagnetIDs, &ids); err != nil {
		return err
	}
	ids[hash] = id
	return s.save(ctx, keyMagnetIDs, ids)
}

// downloadHistory drops legacy entries without a magnet title and persists the
// filtered list when anything was removed. Callers hold s.mu.
func (s *libraryService) downloadHistory(ctx context.Context) ([]domain.DownloadHistoryEntry, error) {
	var history []domain.DownloadHistoryEntry
	if err := s.load(ctx, keyDownloadHistory, &history); err != nil {
		return nil, err
	}

	filtered := make([]domain.DownloadHistoryEntry, 0, len(history))
	for _, entry := range history {
		if entry.MagnetTitle != "" {
			filtered = append(filtered, entry)
		}
	}
	if len(filtered) != len(history) {
		if err := s.save(ctx, keyDownloadHistory, filtered); err != nil {
			return nil, err
		}
	}
	return filtered, nil
}

func (s *libraryService) DownloadHistory(ctx context.Context) ([]domain.DownloadHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.downloadHistory(ctx)
}

func (s *libraryService) AddDownloadHistory(ctx context.Context, entry domain.DownloadHistoryEntry) error {
	if entry.MagnetTitle == "" {
		return ErrMissingMagnetTitle
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	history, err := s.downloadHistory(ctx)
	if err != nil {
		return err
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CompletedAt.IsZero() {
		entry.CompletedAt = s.now().UTC()
	}
	history = append([]domain.DownloadHistoryEntry{entry}, history...)
	return s.save(ctx, keyDownloadHistory, history)
}

func (s *libraryService) RemoveDownloadHistory(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	history, err := s.downloadHistory(ctx)
	if err != nil {
		return err
	}
	kept := history[:0]
	for _, entry := range history {
		if entry.ID != id {
			kept = append(kept, entry)
		}
	}
	if len(kept) == len(history) {
		return fmt.Errorf("download history entry %s: %w", id, repository.ErrNotFound)
	}
	return s.save(ctx, keyDownloadHistory, kept)
}

func (s *libraryService) ClearDownloadHistory(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx, keyDownloadHistory, []domain.DownloadHistoryEntry{})
}

func (s *libraryService) watchHistory(ctx context.Context) ([]domain.WatchHistoryEntry, error) {
	history := []domain.WatchHistoryEntry{}
	if err := s.load(ctx, keyWatchHistory, &history); err != nil {
		return nil, err
	}
	return history, nil
}

func (s *libraryService) RecordPlay(ctx context.Context, magnetHash, magnetTitle, filename, streamURL string) error {
	if magnetHash == "" || filename == "" {
		return errors.New("magnet hash and filename are required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	history, err := s.watchHistory(ctx)
	if err != nil {
		return err
	}
	now := s.now().UTC()

	idx := -1
	for i := range history {
		if history[i].MagnetHash == magnetHash {
			idx = i
			break
		}
	}

	if idx >= 0 {
		entry := &history[idx]
		found := false
		for i := range entry.Files {
			if entry.Files[i].Filename == filename {
				entry.Files[i].PlayCount++
				entry.Files[i].PlayedAt = now
				found = true
				break
			}
		}
		if !found {
			entry.Files = append(entry.Files, domain.WatchedFile{
				Filename:  filename,
				StreamURL: streamURL,
				PlayedAt:  now,
				PlayCount: 1,
			})
		}
		entry.LastPlayedAt = now
	} else {
		history = append([]domain.WatchHistoryEntry{{
			ID:          uuid.NewString(),
			MagnetHash:  magnetHash,
			MagnetTitle: magnetTitle,
			Files: []domain.WatchedFile{{
				Filename:  filename,
				StreamURL: streamURL,
				PlayedAt:  now,
				PlayCount: 1,
			}},
			FirstPlayedAt: now,
			LastPlayedAt:  now,
		}}, history...)
	}

	sort.SliceStable(history, func(i, j int) bool {
		return history[i].LastPlayedAt.After(history[j].LastPlayedAt)
	})
	return s.save(ctx, keyWatchHistory, history)
}

func (s *libraryService) WatchHistory(ctx context.Context) ([]domain.WatchHistoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watchHistory(ctx)
}

func (s *libraryService) RemoveWatchEntry(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	history, err := s.watchHistory(ctx)
	if err != nil {
		return err
	}
	kept := history[:0]
	for _, entry := range history {
		if entry.ID != id {
			kept = append(kept, entry)
		}
	}
	if len(kept) == len(history) {
		return fmt.Errorf("watch history entry %s: %w", id, repository.ErrNotFound)
	}
	return s.save(ctx, keyWatchHistory, kept)
}

func (s *libraryService) ClearWatchHistory(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save(ctx, keyWatchHistory, []domain.WatchHistoryEntry{})
}

// ResetFileWatched forgets one played file; the entry goes away with its last file.
func (s *libraryService) ResetFileWatched(ctx context.Context, entryID, filename string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	history, err := s.watchHistory(ctx)
	if err != nil {
		return err
	}

	for i := range history {
		if history[i].ID != entryID {
			continue
		}
		files := history[i].Files[:0]
		for _, f := range history[i].Files {
			if f.Filename != filename {
				files = append(files, f)
			}
		}
		history[i].Files = files
		if len(files) == 0 {
			history = append(history[:i], history[i+1:]...)
		}
		return s.save(ctx, keyWatchHistory, history)
	}

	return fmt.Errorf("watch history entry %s: %w", entryID, repository.ErrNotFound)
}

func (s *libraryService) savedSearches(ctx context.Context) ([]domain.SavedSearch, error) {
	searches := []domain.SavedSearch{}
	if err := s.load(ctx, keySavedSearches, &searches); err != nil {
		return nil, err
	}
	return searches, nil
}

func (s *libraryService) SavedSearches(ctx context.Context) ([]domain.SavedSearch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.savedSearches(ctx)
}

// AddSavedSearch puts query at the front of the saved searches.
func (s *libraryService) AddSavedSearch(ctx context.Context, query string) (domain.SavedSearch, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return domain.SavedSearch{}, ErrEmptyLibraryItem
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	searches, err := s.savedSearches(ctx)
	if err != nil {
		return domain.SavedSearch{}, err
	}
	for _, search := range searches {
		if search.Query == query {
			return domain.SavedSearch{}, fmt.Errorf("search %q: %w", query, ErrAlreadySaved)
		}
	}

	search := domain.SavedSearch{
		ID:      uuid.NewString(),
		Query:   query,
		SavedAt: s.now().UTC(),
	}
	searches = append([]domain.SavedSearch{search}, searches...)
	if err := s.save(ctx, keySavedSearches, searches); err != nil {
		return domain.SavedSearch{}, err
	}
	return search, nil
}

func (s *libraryService) RemoveSavedSearch(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	searches, err := s.savedSearches(ctx)
	if err != nil {
		return err
	}
	kept := searches[:0]
	for _, search := range searches {
		if search.ID != id {
			kept = append(kept, search)
		}
	}
	if len(kept) == len(searches) {
		return fmt.Errorf("saved search %s: %w", id, repository.ErrNotFound)
	}
	return s.save(ctx, keySavedSearches, kept)
}

func (s *libraryService) savedMagnets(ctx context.Context) ([]domain.SavedMagnet, error) {
	magnets := []domain.SavedMagnet{}
	if err := s.load(ctx, keySavedMagnets, &magnets); err != nil {
		return nil, err
	}
	return magnets, nil
}

func (s *libraryService) SavedMagnets(ctx context.Context) ([]domain.SavedMagnet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.savedMagnets(ctx)
}

// AddSavedMagnet puts item at the front of the library. Items are unique by
// magnet locator; the id and saved time are assigned here.
func (s *libraryService) AddSavedMagnet(ctx context.Context, item domain.SavedMagnet) (domain.SavedMagnet, error) {
	item.Magnet = strings.TrimSpace(item.Magnet)
	if item.Magnet == "" {
		return domain.SavedMagnet{}, ErrEmptyLibraryItem
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	magnets, err := s.savedMagnets(ctx)
	if err != nil {
		return domain.SavedMagnet{}, err
	}
	for _, m := range magnets {
		if m.Magnet == item.Magnet {
			return domain.SavedMagnet{}, fmt.Errorf("magnet %s: %w", m.ID, ErrAlreadySaved)
		}
	}

	item.ID = uuid.NewString()
	item.SavedAt = s.now().UTC()
	item.ImdbID = nonEmpty(item.ImdbID)
	item.CanonicalTitle = nonEmpty(item.CanonicalTitle)

	magnets = append([]domain.SavedMagnet{item}, magnets...)
	if err := s.save(ctx, keySavedMagnets, magnets); err != nil {
		return domain.SavedMagnet{}, err
	}
	return item, nil
}

func (s *libraryService) RemoveSavedMagnet(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	magnets, err := s.savedMagnets(ctx)
	if err != nil {
		return err
	}
	kept := magnets[:0]
	for _, m := range magnets {
		if m.ID != id {
			kept = append(kept, m)
		}
	}
	if len(kept) == len(magnets) {
		return fmt.Errorf("saved magnet %s: %w", id, repository.ErrNotFound)
	}
	return s.save(ctx, keySavedMagnets, kept)
}

func nonEmpty(v *string) *string {
	if v == nil || *v == "" {
		return nil
	}
	return v
}
