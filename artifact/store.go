//
// Copyright (C) 2025 Gambit Authors. All rights reserved.
//
// gambit is licensed under the Apache License Version 2.0.
//

// Package artifact implements the per-session artifact store: an
// append-only events.jsonl with dense zero-based offsets, an atomically
// replaced state.json snapshot, and an exclusive .lock. At most one live
// writer exists per session; offsets stay monotonic across continuations.
package artifact

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gambit-run/gambit/log"
	"github.com/gambit-run/gambit/trace"
)

// Session file names.
const (
	StateFileName  = "state.json"
	EventsFileName = "events.jsonl"
	LockFileName   = ".lock"
)

// Event domains.
const (
	DomainSession = "session"
	DomainBuild   = "build"
	DomainTest    = "test"
	DomainGrade   = "grade"
)

// Sentinel errors.
var (
	// ErrAlreadyExists is returned when a fresh session collides with
	// existing artifacts.
	ErrAlreadyExists = errors.New("session already exists")
	// ErrLockActive is returned when another writer holds the lock.
	ErrLockActive = errors.New("session already active")
	// ErrNonMonotonic is returned when the persisted log has offset gaps.
	ErrNonMonotonic = errors.New("non-monotonic event offset")
)

// Options configure session acquisition.
type Options struct {
	RootDir   string
	SessionID string
	// ContinueSession joins an existing session instead of creating one.
	ContinueSession bool
}

// Store is the live handle on one session directory. It is safe for
// concurrent use within one process; cross-process exclusion is enforced by
// the lock file.
type Store struct {
	dir        string
	sessionID  string
	statePath  string
	eventsPath string
	lockPath   string

	mu          sync.Mutex
	events      *os.File
	highest     int64 // highest persisted offset, -1 when the log is empty
	state       *State
	stateOffset int64 // boundary offset at the time of the last state update
	stateDirty  bool
	loaded      *State // snapshot loaded from disk on continuation
}

// Acquire creates or joins a session directory and takes the exclusive
// lock. A fresh session fails when artifacts already exist; continuation
// recovers from a missing snapshot by archiving the orphaned log.
func Acquire(opts Options) (*Store, error) {
	if opts.SessionID == "" {
		return nil, errors.New("artifact: sessionId is required")
	}
	dir := filepath.Join(opts.RootDir, opts.SessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: create session dir: %w", err)
	}
	s := &Store{
		dir:         dir,
		sessionID:   opts.SessionID,
		statePath:   filepath.Join(dir, StateFileName),
		eventsPath:  filepath.Join(dir, EventsFileName),
		lockPath:    filepath.Join(dir, LockFileName),
		highest:     -1,
		stateOffset: -1,
	}
	if !opts.ContinueSession {
		if exists(s.statePath) || exists(s.eventsPath) {
			return nil, fmt.Errorf("%w: session %q already exists in %s; pass continueSession with the same sessionId to resume",
				ErrAlreadyExists, opts.SessionID, opts.RootDir)
		}
	}
	if err := s.acquireLock(); err != nil {
		return nil, err
	}
	if err := s.open(opts.ContinueSession); err != nil {
		s.releaseLock()
		return nil, err
	}
	return s, nil
}

// acquireLock creates the lock file exclusively.
func (s *Store) acquireLock() error {
	f, err := os.OpenFile(s.lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w: session %q is locked by another writer", ErrLockActive, s.sessionID)
		}
		return fmt.Errorf("artifact: create lock: %w", err)
	}
	defer f.Close()
	payload, _ := json.Marshal(map[string]any{
		"pid":       os.Getpid(),
		"createdAt": time.Now().UTC().Format(time.RFC3339Nano),
		"nonce":     uuid.NewString(),
	})
	_, err = f.Write(append(payload, '\n'))
	return err
}

func (s *Store) releaseLock() {
	if err := os.Remove(s.lockPath); err != nil && !os.IsNotExist(err) {
		log.Warnf("artifact: remove lock: %v", err)
	}
}

// open validates the persisted log, loads the snapshot on continuation and
// archives an orphaned log when the snapshot is missing.
func (s *Store) open(continueSession bool) error {
	highest, count, err := scanEvents(s.eventsPath)
	if err != nil {
		return err
	}
	s.highest = highest

	if continueSession {
		if raw, err := os.ReadFile(s.statePath); err == nil {
			var loaded State
			if err := json.Unmarshal(raw, &loaded); err != nil {
				return fmt.Errorf("artifact: corrupt %s: %w", StateFileName, err)
			}
			s.loaded = &loaded
			s.stateOffset = metaOffset(loaded.Meta)
		} else if count > 0 {
			// Events without a snapshot: archive the log so the next run
			// resumes cleanly from offset 0 while audit history survives.
			stamp := time.Now().UTC().Format("2006-01-02T15-04-05.000Z")
			archived := filepath.Join(s.dir, fmt.Sprintf("events.orphaned.%s.jsonl", stamp))
			if err := os.Rename(s.eventsPath, archived); err != nil {
				return fmt.Errorf("artifact: archive orphaned events: %w", err)
			}
			log.Warnf("artifact: session %q had events but no snapshot; archived to %s", s.sessionID, archived)
			s.highest = -1
		}
	}

	s.events, err = os.OpenFile(s.eventsPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("artifact: open events log: %w", err)
	}
	return nil
}

// scanEvents validates that offsets are zero-based and dense and returns the
// highest offset (-1 when empty) and the line count.
func scanEvents(path string) (highest int64, count int, err error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return -1, 0, nil
		}
		return -1, 0, fmt.Errorf("artifact: open events log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	highest = -1
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var envelope struct {
			Offset *int64 `json:"offset"`
		}
		if err := json.Unmarshal(line, &envelope); err != nil {
			// A torn trailing line from a crashed writer is tolerated; a
			// torn line in the middle is not.
			if !scanner.Scan() {
				log.Warnf("artifact: ignoring partial trailing event line in %s", path)
				break
			}
			return -1, 0, fmt.Errorf("artifact: corrupt event line at offset %d: %v", highest+1, err)
		}
		if envelope.Offset == nil || *envelope.Offset != highest+1 {
			return -1, 0, fmt.Errorf("%w: expected %d, got %v", ErrNonMonotonic, highest+1, envelope.Offset)
		}
		highest++
		count++
	}
	if err := scanner.Err(); err != nil {
		return -1, 0, fmt.Errorf("artifact: read events log: %w", err)
	}
	return highest, count, nil
}

// SessionID returns the session identifier.
func (s *Store) SessionID() string { return s.sessionID }

// Dir returns the session directory.
func (s *Store) Dir() string { return s.dir }

// LoadedState returns the snapshot read from disk on continuation, nil for
// fresh sessions.
func (s *Store) LoadedState() *State { return s.loaded.Clone() }

// HighestOffset returns the highest persisted event offset, -1 when empty.
func (s *Store) HighestOffset() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.highest
}

// Trace appends a trace event under the session domain. Implements
// trace.Tracer indirectly via TraceSink.
func (s *Store) Trace(event trace.Event) error {
	payload := map[string]any{}
	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("artifact: encode event: %w", err)
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return fmt.Errorf("artifact: encode event: %w", err)
	}
	delete(payload, "type")
	delete(payload, "timestamp")
	return s.Append(DomainSession, string(event.Type), payload)
}

// TraceSink adapts the store to trace.Tracer. Append failures are surfaced
// through the run, not swallowed here; the adapter logs them because the
// tracer contract forbids throwing.
func (s *Store) TraceSink() trace.Tracer {
	return trace.Func(func(event trace.Event) {
		if err := s.Trace(event); err != nil {
			log.Errorf("artifact: append trace event: %v", err)
		}
	})
}

// Append writes one event line with the next dense offset. The event type
// is normalized into the gambit.* namespace; the original name is preserved
// under _gambit.source_type.
func (s *Store) Append(domain, eventType string, payload map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events == nil {
		return errors.New("artifact: store is finalized")
	}
	offset := s.highest + 1
	envelope := make(map[string]any, len(payload)+4)
	for k, v := range payload {
		envelope[k] = v
	}
	meta := map[string]any{"domain": domain, "offset": offset}
	normalized := eventType
	if !strings.HasPrefix(eventType, "gambit.") {
		normalized = "gambit." + eventType
		meta["source_type"] = eventType
	}
	envelope["offset"] = offset
	envelope["createdAt"] = time.Now().UTC().Format(time.RFC3339Nano)
	envelope["type"] = normalized
	envelope["_gambit"] = meta

	line, err := json.Marshal(envelope)
	if err != nil {
		return fmt.Errorf("artifact: encode envelope: %w", err)
	}
	if _, err := s.events.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("artifact: append event: %w", err)
	}
	s.highest = offset
	return nil
}

// OnStateUpdate records the latest run state. Persistence is deferred to
// PersistLatest. The snapshot boundary advances to the current highest
// offset: every event appended so far is reflected in this state.
func (s *Store) OnStateUpdate(state *State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state.Clone()
	s.stateOffset = s.highest
	s.stateDirty = true
}

// PersistLatest atomically writes state.json for the most recent state
// update. A no-op when no update happened since the last persist.
func (s *Store) PersistLatest() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stateDirty || s.state == nil {
		return nil
	}
	snapshot := s.state.Clone()
	if snapshot.Meta == nil {
		snapshot.Meta = map[string]any{}
	}
	boundary := s.stateOffset
	if boundary > s.highest {
		boundary = s.highest
	}
	snapshot.Meta[MetaSessionID] = s.sessionID
	snapshot.Meta[MetaSessionDir] = s.dir
	snapshot.Meta[MetaStatePath] = s.statePath
	snapshot.Meta[MetaEventsPath] = s.eventsPath
	snapshot.Meta[MetaLastOffset] = boundary
	snapshot.Meta[MetaLastEventSeq] = boundary

	raw, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("artifact: encode snapshot: %w", err)
	}
	tmp := filepath.Join(s.dir, fmt.Sprintf(".tmp-%s-%s", StateFileName, uuid.NewString()[:8]))
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("artifact: write snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.statePath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("artifact: replace snapshot: %w", err)
	}
	s.stateDirty = false
	return nil
}

// Finalize persists any pending snapshot, closes the log and releases the
// lock. Safe to call more than once.
func (s *Store) Finalize() error {
	if err := s.PersistLatest(); err != nil {
		log.Errorf("artifact: persist on finalize: %v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.events != nil {
		s.events.Close()
		s.events = nil
	}
	s.releaseLock()
	return nil
}

func metaOffset(meta map[string]any) int64 {
	if meta == nil {
		return -1
	}
	switch v := meta[MetaLastOffset].(type) {
	case float64:
		return int64(v)
	case int64:
		return v
	case int:
		return int64(v)
	default:
		return -1
	}
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
