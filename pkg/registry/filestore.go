package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"proxy-provisioner/pkg/models"
)

// fileEntry is one element of proxies.json. Times are unix seconds with 0 for
// none, as the forwarding process reads them. Files written before plan_class
// existed carry no class; it is recovered from the subdomain or local port.
type fileEntry struct {
	PlanID           string           `json:"plan_id"`
	Provider         string           `json:"provider,omitempty"`
	Username         string           `json:"username"`
	Password         string           `json:"password"`
	PlanClass        models.PlanClass `json:"plan_class,omitempty"`
	AuthHost         string           `json:"auth_host"`
	LocalHost        string           `json:"local_host"`
	AuthPort         int              `json:"auth_port"`
	LocalPort        int              `json:"local_port"`
	PublicPort       int              `json:"public_port"`
	Subdomain        string           `json:"subdomain"`
	BandwidthLimitMB int64            `json:"bandwidth_limit_mb,omitempty"`
	DurationHours    int              `json:"duration_hours,omitempty"`
	ExpiresAt        int64            `json:"expires_at"`
	CreatedAt        int64            `json:"created_at"`
	UpdatedAt        int64            `json:"updated_at,omitempty"`
}

func toFileEntry(rec *models.PlanRecord) fileEntry {
	return fileEntry{
		PlanID:           rec.PlanID,
		Provider:         rec.Provider,
		Username:         rec.Username,
		Password:         rec.Password,
		PlanClass:        rec.PlanClass,
		AuthHost:         rec.AuthHost,
		LocalHost:        rec.LocalHost,
		AuthPort:         rec.AuthPort,
		LocalPort:        rec.LocalPort,
		PublicPort:       rec.PublicPort,
		Subdomain:        rec.Subdomain,
		BandwidthLimitMB: rec.BandwidthLimitMB,
		DurationHours:    rec.DurationHours,
		ExpiresAt:        unixOrZero(rec.ExpiresAt),
		CreatedAt:        unixOrZero(rec.CreatedAt),
		UpdatedAt:        unixOrZero(rec.UpdatedAt),
	}
}

func (e fileEntry) record() models.PlanRecord {
	rec := models.PlanRecord{
		PlanID:           e.PlanID,
		Provider:         e.Provider,
		Username:         e.Username,
		Password:         e.Password,
		PlanClass:        e.PlanClass,
		Subdomain:        e.Subdomain,
		BandwidthLimitMB: e.BandwidthLimitMB,
		DurationHours:    e.DurationHours,
		AuthHost:         e.AuthHost,
		AuthPort:         e.AuthPort,
		LocalHost:        e.LocalHost,
		LocalPort:        e.LocalPort,
		PublicPort:       e.PublicPort,
		ExpiresAt:        timeOrZero(e.ExpiresAt),
		CreatedAt:        timeOrZero(e.CreatedAt),
		UpdatedAt:        timeOrZero(e.UpdatedAt),
	}
	if rec.PlanClass == "" {
		if class, ok := models.DefaultCatalog().ClassFor(e.Subdomain, e.LocalPort); ok {
			rec.PlanClass = class
		}
	}
	return rec
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// FileStore keeps records as a JSON array in the proxies.json layout read by
// the forwarding process. Every write replaces the file through a rename, so
// readers see either the previous snapshot or the next one.
type FileStore struct {
	path string

	mu      sync.Mutex
	records map[string]models.PlanRecord
}

// OpenFileStore loads path, treating a missing file as an empty registry.
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, records: make(map[string]models.PlanRecord)}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read registry file: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}

	var entries []fileEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse registry file %s: %w", path, err)
	}
	for _, entry := range entries {
		rec := entry.record()
		if rec.PlanID == "" {
			return nil, fmt.Errorf("registry file %s: record without plan_id", path)
		}
		if _, dup := s.records[rec.PlanID]; dup {
			return nil, fmt.Errorf("registry file %s: duplicate plan_id %s", path, rec.PlanID)
		}
		s.records[rec.PlanID] = rec
	}
	return s, nil
}

func (s *FileStore) Path() string {
	return s.path
}

func (s *FileStore) Get(ctx context.Context, planID string) (*models.PlanRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[planID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, planID)
	}
	return &rec, nil
}

func (s *FileStore) List(ctx context.Context) ([]models.PlanRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLocked(func(models.PlanRecord) bool { return true }), nil
}

func (s *FileStore) ListByClass(ctx context.Context, class models.PlanClass) ([]models.PlanRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedLocked(func(rec models.PlanRecord) bool { return rec.PlanClass == class }), nil
}

func (s *FileStore) Put(ctx context.Context, rec *models.PlanRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.records[rec.PlanID]
	s.records[rec.PlanID] = *rec
	if err := s.flushLocked(); err != nil {
		if had {
			s.records[rec.PlanID] = prev
		} else {
			delete(s.records, rec.PlanID)
		}
		return err
	}
	return nil
}

func (s *FileStore) Delete(ctx context.Context, planID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.records[planID]
	if !had {
		return nil
	}
	delete(s.records, planID)
	if err := s.flushLocked(); err != nil {
		s.records[planID] = prev
		return err
	}
	return nil
}

func (s *FileStore) sortedLocked(keep func(models.PlanRecord) bool) []models.PlanRecord {
	out := make([]models.PlanRecord, 0, len(s.records))
	for _, rec := range s.records {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PlanID < out[j].PlanID })
	return out
}

func (s *FileStore) flushLocked() error {
	recs := s.sortedLocked(func(models.PlanRecord) bool { return true })
	entries := make([]fileEntry, len(recs))
	for i := range recs {
		entries[i] = toFileEntry(&recs[i])
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode registry: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close registry temp file: %w", err)
	}
	// holds credentials; group-readable for the forwarding process only
	if err := os.Chmod(tmpName, 0o640); err != nil {
		return fmt.Errorf("failed to chmod registry: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace registry file: %w", err)
	}
	return nil
}
