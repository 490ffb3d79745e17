// Package configstore is a transactional key/value section store modelled
// after the gateway's configuration system. Each named config holds typed
// sections of string-list options. Edits go to a per-caller working copy,
// Save stages them in the shared store, and Apply commits everything staged
// once the system confirms.
package configstore

import (
	"context"
	"errors"
)

var (
	ErrNotLoaded       = errors.New("config not loaded")
	ErrSectionNotFound = errors.New("section not found")
	ErrClosed          = errors.New("config store closed")
)

// Client is the contract consumers rely on. Implementations are not safe
// for concurrent use unless stated otherwise.
type Client interface {
	// Load (re)reads config into the working copy, including staged
	// changes and any local unsaved edits.
	Load(ctx context.Context, config string) error
	// Sections visits the sections of config with the given type, in
	// order. An empty type visits all sections.
	Sections(config, typ string, fn func(Section)) error
	Add(config, typ string) (string, error)
	// Set replaces option field of a section. No values, or a single empty
	// value, removes the option.
	Set(config, id, field string, values ...string) error
	Remove(config, id string) error
	// Save stages local edits in the shared store.
	Save(ctx context.Context) error
	// Apply asks the system to commit all staged changes. It returns once
	// the request is accepted; Changes reports convergence.
	Apply(ctx context.Context) error
	// Changes returns staged but not yet applied changes per config.
	Changes(ctx context.Context) (map[string][]Change, error)
	// Revert discards staged changes of one config.
	Revert(ctx context.Context, config string) error
}

// Section is one typed section of a config.
type Section struct {
	ID      string              `json:"id"`
	Type    string              `json:"type"`
	Options map[string][]string `json:"options"`
}

// Get returns the first value of field, or "".
func (s Section) Get(field string) string {
	if v := s.Options[field]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// List returns all values of field.
func (s Section) List(field string) []string {
	return s.Options[field]
}

func (s Section) clone() Section {
	c := Section{ID: s.ID, Type: s.Type, Options: make(map[string][]string, len(s.Options))}
	for k, v := range s.Options {
		c.Options[k] = append([]string(nil), v...)
	}
	return c
}

// ChangeOp is the kind of a staged change.
type ChangeOp string

const (
	OpAdd    ChangeOp = "add"
	OpSet    ChangeOp = "set"
	OpRemove ChangeOp = "remove"
)

// Change is one staged edit.
type Change struct {
	Op      ChangeOp `json:"op"`
	Section string   `json:"section"`
	Type    string   `json:"type,omitempty"`
	Field   string   `json:"field,omitempty"`
	Values  []string `json:"values,omitempty"`
}

// replay applies changes to an ordered section list.
func replay(sections []Section, changes []Change) []Section {
	for _, ch := range changes {
		switch ch.Op {
		case OpAdd:
			if indexOf(sections, ch.Section) < 0 {
				sections = append(sections, Section{ID: ch.Section, Type: ch.Type, Options: map[string][]string{}})
			}
		case OpSet:
			i := indexOf(sections, ch.Section)
			if i < 0 {
				continue
			}
			if isUnset(ch.Values) {
				delete(sections[i].Options, ch.Field)
			} else {
				sections[i].Options[ch.Field] = append([]string(nil), ch.Values...)
			}
		case OpRemove:
			if i := indexOf(sections, ch.Section); i >= 0 {
				sections = append(sections[:i], sections[i+1:]...)
			}
		}
	}
	return sections
}

func indexOf(sections []Section, id string) int {
	for i := range sections {
		if sections[i].ID == id {
			return i
		}
	}
	return -1
}

func isUnset(values []string) bool {
	return len(values) == 0 || (len(values) == 1 && values[0] == "")
}
