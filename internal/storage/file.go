package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	logx "prestic/pkg/logx"
)

// fileStore is a dependency-free persistence backend.
//
// Files:
//   - <prefix>.state.json (last-run snapshot, rewritten atomically)
//   - <prefix>.runs.jsonl (append-only run history)
type fileStore struct {
	log logx.Logger

	mu sync.Mutex

	statePath string
	lastRun   map[string]int64 // unix milli

	runsPath string
	runsFile *os.File
	runCount int
}

const maxHistoryLines = 10000

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for file driver")
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	dir := filepath.Dir(path)
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	prefix := filepath.Join(dir, base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	s := &fileStore{
		log:       log,
		statePath: prefix + ".state.json",
		lastRun:   map[string]int64{},
		runsPath:  prefix + ".runs.jsonl",
	}
	if err := s.loadState(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Warn("run state unreadable; starting fresh", logx.String("path", s.statePath), logx.Err(err))
	}

	rf, err := os.OpenFile(s.runsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	s.runsFile = rf
	return s, nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile != nil {
		err := s.runsFile.Close()
		s.runsFile = nil
		return err
	}
	return nil
}

func (s *fileStore) loadState() error {
	f, err := os.Open(s.statePath)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewDecoder(f).Decode(&s.lastRun)
}

// saveStateLocked rewrites the snapshot atomically (tmp + rename).
func (s *fileStore) saveStateLocked() error {
	tmp := s.statePath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(s.lastRun); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.statePath)
}

func (s *fileStore) LastRun(ctx context.Context, profile string) (time.Time, bool, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	ms, ok := s.lastRun[profile]
	if !ok {
		return time.Time{}, false, nil
	}
	return time.UnixMilli(ms), true, nil
}

func (s *fileStore) SetLastRun(ctx context.Context, profile string, at time.Time) error {
	_ = ctx
	if strings.TrimSpace(profile) == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun[profile] = at.UnixMilli()
	return s.saveStateLocked()
}

func (s *fileStore) AppendRun(ctx context.Context, r RunRecord) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runsFile == nil {
		return errors.New("run history closed")
	}
	if err := json.NewEncoder(s.runsFile).Encode(r); err != nil {
		return err
	}
	if r.Status == "success" {
		s.lastRun[r.Profile] = r.FinishedAt.UnixMilli()
		if err := s.saveStateLocked(); err != nil {
			return err
		}
	}
	s.runCount++
	if s.runCount%1000 == 0 {
		if err := s.compactRunsLocked(); err != nil {
			s.log.Debug("run history compact failed", logx.Err(err))
		}
	}
	return nil
}

func (s *fileStore) RecentRuns(ctx context.Context, profile string, limit int) ([]RunRecord, error) {
	_ = ctx
	if limit <= 0 {
		limit = 20
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := readRuns(s.runsPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []RunRecord
	for _, r := range records {
		if profile != "" && r.Profile != profile {
			continue
		}
		out = append(out, r)
	}
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// compactRunsLocked bounds the history file by rewriting the trailing
// records.
func (s *fileStore) compactRunsLocked() error {
	records, err := readRuns(s.runsPath)
	if err != nil {
		return err
	}
	if len(records) <= maxHistoryLines {
		return nil
	}
	records = records[len(records)-maxHistoryLines:]

	tmp := s.runsPath + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := s.runsFile.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.runsPath); err != nil {
		return err
	}
	rf, err := os.OpenFile(s.runsPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	s.runsFile = rf
	return nil
}

func readRuns(path string) ([]RunRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []RunRecord
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		var r RunRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			// Torn trailing write after a crash; skip.
			continue
		}
		out = append(out, r)
	}
	return out, sc.Err()
}
