package configstore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketCommitted = []byte("committed")
	bucketStaged    = []byte("staged")
)

// BoltBackend is the shared state behind all sessions: committed configs and
// the staged change log, persisted in BoltDB. It is safe for concurrent use.
type BoltBackend struct {
	db *bolt.DB
}

// NewBoltBackend opens or creates a BoltDB database.
func NewBoltBackend(path string) (*BoltBackend, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range [][]byte{bucketCommitted, bucketStaged} {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create buckets: %w", err)
	}

	return &BoltBackend{db: db}, nil
}

// Snapshot returns the committed sections of config with staged changes
// replayed on top.
func (s *BoltBackend) Snapshot(config string) ([]Section, error) {
	var sections []Section
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		sections, err = readCommitted(tx, config)
		if err != nil {
			return err
		}
		staged, err := readStaged(tx, config)
		if err != nil {
			return err
		}
		sections = replay(sections, staged)
		return nil
	})
	return sections, err
}

// Committed returns the applied sections of config.
func (s *BoltBackend) Committed(config string) ([]Section, error) {
	var sections []Section
	err := s.db.View(func(tx *bolt.Tx) error {
		var err error
		sections, err = readCommitted(tx, config)
		return err
	})
	return sections, err
}

// Staged returns every config with staged changes. Configs without changes
// are omitted.
func (s *BoltBackend) Staged() (map[string][]Change, error) {
	out := make(map[string][]Change)
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStaged).ForEachBucket(func(name []byte) error {
			changes, err := readStaged(tx, string(name))
			if err != nil {
				return err
			}
			if len(changes) > 0 {
				out[string(name)] = changes
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Stage appends changes to the staged log in a single transaction.
func (s *BoltBackend) Stage(changes map[string][]Change) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketStaged)
		for config, list := range changes {
			if len(list) == 0 {
				continue
			}
			b, err := root.CreateBucketIfNotExists([]byte(config))
			if err != nil {
				return fmt.Errorf("staged bucket %q: %w", config, err)
			}
			for _, ch := range list {
				seq, err := b.NextSequence()
				if err != nil {
					return err
				}
				data, err := json.Marshal(ch)
				if err != nil {
					return err
				}
				if err := b.Put(seqKey(seq), data); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

// Commit folds all staged changes into the committed configs and clears the
// staged log. It returns the names of the configs that changed.
func (s *BoltBackend) Commit() ([]string, error) {
	var committed []string
	err := s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketStaged)
		var names []string
		if err := root.ForEachBucket(func(name []byte) error {
			names = append(names, string(name))
			return nil
		}); err != nil {
			return err
		}
		for _, config := range names {
			staged, err := readStaged(tx, config)
			if err != nil {
				return err
			}
			if len(staged) > 0 {
				sections, err := readCommitted(tx, config)
				if err != nil {
					return err
				}
				if err := writeCommitted(tx, config, replay(sections, staged)); err != nil {
					return err
				}
				committed = append(committed, config)
			}
			if err := root.DeleteBucket([]byte(config)); err != nil {
				return fmt.Errorf("clear staged %q: %w", config, err)
			}
		}
		return nil
	})
	sort.Strings(committed)
	return committed, err
}

// Revert drops the staged changes of config.
func (s *BoltBackend) Revert(config string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(bucketStaged)
		if root.Bucket([]byte(config)) == nil {
			return nil
		}
		return root.DeleteBucket([]byte(config))
	})
}

// PutCommitted replaces the committed sections of config, bypassing the
// staged log. Used for bootstrap seeding.
func (s *BoltBackend) PutCommitted(config string, sections []Section) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return writeCommitted(tx, config, sections)
	})
}

// Empty reports whether no config has ever been committed.
func (s *BoltBackend) Empty() (bool, error) {
	empty := true
	err := s.db.View(func(tx *bolt.Tx) error {
		k, _ := tx.Bucket(bucketCommitted).Cursor().First()
		empty = k == nil
		return nil
	})
	return empty, err
}

func (s *BoltBackend) Close() error {
	return s.db.Close()
}

func readCommitted(tx *bolt.Tx, config string) ([]Section, error) {
	data := tx.Bucket(bucketCommitted).Get([]byte(config))
	if data == nil {
		return nil, nil
	}
	var sections []Section
	if err := json.Unmarshal(data, &sections); err != nil {
		return nil, fmt.Errorf("decode config %q: %w", config, err)
	}
	for i := range sections {
		if sections[i].Options == nil {
			sections[i].Options = map[string][]string{}
		}
	}
	return sections, nil
}

func writeCommitted(tx *bolt.Tx, config string, sections []Section) error {
	data, err := json.Marshal(sections)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketCommitted).Put([]byte(config), data)
}

func readStaged(tx *bolt.Tx, config string) ([]Change, error) {
	b := tx.Bucket(bucketStaged).Bucket([]byte(config))
	if b == nil {
		return nil, nil
	}
	var changes []Change
	err := b.ForEach(func(_, v []byte) error {
		var ch Change
		if err := json.Unmarshal(v, &ch); err != nil {
			return err
		}
		changes = append(changes, ch)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("decode staged %q: %w", config, err)
	}
	return changes, nil
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
