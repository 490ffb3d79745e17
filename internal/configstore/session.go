package configstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Session is a Client with its own working copy over a shared BoltBackend.
// Two sessions see each other's edits only after Save.
type Session struct {
	backend *BoltBackend
	applier *Applier

	mu      sync.Mutex
	working map[string][]Section
	local   map[string][]Change
}

// NewSession creates a session. A nil applier makes Apply commit inline.
func NewSession(backend *BoltBackend, applier *Applier) *Session {
	return &Session{
		backend: backend,
		applier: applier,
		working: make(map[string][]Section),
		local:   make(map[string][]Change),
	}
}

func (s *Session) Load(ctx context.Context, config string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	sections, err := s.backend.Snapshot(config)
	if err != nil {
		return fmt.Errorf("load %s: %w", config, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.working[config] = replay(sections, s.local[config])
	return nil
}

func (s *Session) Sections(config, typ string, fn func(Section)) error {
	s.mu.Lock()
	sections, ok := s.working[config]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", config, ErrNotLoaded)
	}
	visit := make([]Section, 0, len(sections))
	for _, sec := range sections {
		if typ == "" || sec.Type == typ {
			visit = append(visit, sec.clone())
		}
	}
	s.mu.Unlock()

	for _, sec := range visit {
		fn(sec)
	}
	return nil
}

func (s *Session) Add(config, typ string) (string, error) {
	id := newSectionID()
	err := s.edit(config, Change{Op: OpAdd, Section: id, Type: typ}, false)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Session) Set(config, id, field string, values ...string) error {
	return s.edit(config, Change{Op: OpSet, Section: id, Field: field, Values: values}, true)
}

func (s *Session) Remove(config, id string) error {
	return s.edit(config, Change{Op: OpRemove, Section: id}, true)
}

func (s *Session) edit(config string, ch Change, mustExist bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sections, ok := s.working[config]
	if !ok {
		return fmt.Errorf("%s: %w", config, ErrNotLoaded)
	}
	if mustExist && indexOf(sections, ch.Section) < 0 {
		return fmt.Errorf("%s.%s: %w", config, ch.Section, ErrSectionNotFound)
	}
	s.working[config] = replay(sections, []Change{ch})
	s.local[config] = append(s.local[config], ch)
	return nil
}

func (s *Session) Save(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	pending := s.local
	s.mu.Unlock()

	if err := s.backend.Stage(pending); err != nil {
		return fmt.Errorf("stage changes: %w", err)
	}

	s.mu.Lock()
	s.local = make(map[string][]Change)
	s.mu.Unlock()
	return nil
}

func (s *Session) Apply(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.applier == nil {
		_, err := s.backend.Commit()
		return err
	}
	return s.applier.Apply(ctx)
}

func (s *Session) Changes(ctx context.Context) (map[string][]Change, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.backend.Staged()
}

func (s *Session) Revert(ctx context.Context, config string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.backend.Revert(config); err != nil {
		return fmt.Errorf("revert %s: %w", config, err)
	}
	s.mu.Lock()
	delete(s.local, config)
	_, loaded := s.working[config]
	s.mu.Unlock()
	if loaded {
		return s.Load(ctx, config)
	}
	return nil
}

// newSectionID returns an anonymous section name in the "cfgXXXXXX" style.
func newSectionID() string {
	return "cfg" + strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
}
