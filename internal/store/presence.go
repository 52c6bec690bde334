package store

import (
	"encoding/json"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"chat-relay/internal/domain"
)

func presenceKey(userID string) []byte {
	return []byte("user:" + userID)
}

// UpsertPresence merges the given record into the stored one. Empty profile
// fields keep their stored values so a bare presence flip does not erase the
// profile; Online and LastSeen always win.
func (s *Store) UpsertPresence(p domain.Presence) error {
	if p.UserID == "" {
		return fmt.Errorf("upsert presence: empty user id")
	}
	key := presenceKey(p.UserID)

	return s.db.Update(func(txn *badger.Txn) error {
		merged := p
		item, err := txn.Get(key)
		switch err {
		case nil:
			var existing domain.Presence
			err = item.Value(func(v []byte) error {
				return json.Unmarshal(v, &existing)
			})
			if err != nil {
				return err
			}
			if merged.Username == "" {
				merged.Username = existing.Username
			}
			if merged.Email == "" {
				merged.Email = existing.Email
			}
			if merged.Avatar == "" {
				merged.Avatar = existing.Avatar
			}
		case badger.ErrKeyNotFound:
		default:
			return err
		}

		data, err := json.Marshal(merged)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
}

// Presence returns the record for one user, or ErrNotFound.
func (s *Store) Presence(userID string) (domain.Presence, error) {
	var p domain.Presence
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(presenceKey(userID))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &p)
		})
	})
	return p, err
}

// ListPresence returns every known presence record, for directory-style
// display.
func (s *Store) ListPresence() ([]domain.Presence, error) {
	var out []domain.Presence
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte("user:")
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var p domain.Presence
			err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &p)
			})
			if err != nil {
				return err
			}
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list presence: %w", err)
	}
	return out, nil
}
