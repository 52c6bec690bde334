package store

import (
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"chat-relay/internal/domain"
)

// Message keys are "msg:{room}:{timestamp_padded}:{uuid}":
//  1. The room component is query-escaped: room ids are opaque caller
//     strings and a literal ":" in one would bleed into another room's
//     prefix scan.
//  2. 19-digit zero padding keeps lexicographic order chronological.
//  3. The uuid suffix disambiguates two messages landing on the same
//     nanosecond.
//
// A secondary index "msgid:{uuid}" maps the id back to its primary key so
// the read flag can be updated without knowing room or timestamp.
func messageKey(room string, at time.Time, id string) []byte {
	return fmt.Appendf(nil, "msg:%s:%019d:%s", url.QueryEscape(room), at.UnixNano(), id)
}

func messageIndexKey(id string) []byte {
	return []byte("msgid:" + id)
}

func roomPrefix(room string) []byte {
	return []byte("msg:" + url.QueryEscape(room) + ":")
}

// Append assigns the server timestamp and a generated id, writes the record
// durably together with its id index, and returns the stored message.
func (s *Store) Append(msg domain.Message) (domain.Message, error) {
	msg.ID = uuid.NewString()
	msg.Timestamp = time.Now().UTC()

	key := messageKey(msg.Room, msg.Timestamp, msg.ID)
	data, err := json.Marshal(msg)
	if err != nil {
		return domain.Message{}, fmt.Errorf("marshal message: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(key, data); err != nil {
			return err
		}
		return txn.Set(messageIndexKey(msg.ID), key)
	})
	if err != nil {
		return domain.Message{}, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

// History returns up to limit messages for a room. The scan walks newest
// first, skipping offset records, and the collected page is reversed before
// returning: offsets page backward through time while each returned page
// stays oldest-to-newest.
func (s *Store) History(room string, limit, offset int) ([]domain.Message, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if offset < 0 {
		offset = 0
	}

	var raw [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		prefix := roomPrefix(room)
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Seek past the newest possible timestamp for this room, then walk
		// backward.
		seekKey := append(append([]byte{}, prefix...), []byte("9999999999999999999")...)
		skipped := 0
		for it.Seek(seekKey); it.ValidForPrefix(prefix) && len(raw) < limit; it.Next() {
			if skipped < offset {
				skipped++
				continue
			}
			err := it.Item().Value(func(v []byte) error {
				raw = append(raw, append([]byte{}, v...))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("history scan for room %s: %w", room, err)
	}

	messages := make([]domain.Message, 0, len(raw))
	for _, b := range raw {
		var msg domain.Message
		if err := json.Unmarshal(b, &msg); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		messages = append(messages, msg)
	}
	return lo.Reverse(messages), nil
}

// SetRead flips the read flag of the identified message. A missing id is
// treated as already read and returns nil; the transition is one-way and
// idempotent.
func (s *Store) SetRead(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(messageIndexKey(id))
		if err == badger.ErrKeyNotFound {
			log.Debug().Str("module", "store").Str("message_id", id).Msg("setRead on unknown id, treating as read")
			return nil
		}
		if err != nil {
			return err
		}
		var key []byte
		if key, err = item.ValueCopy(nil); err != nil {
			return err
		}

		rec, err := txn.Get(key)
		if err != nil {
			return err
		}
		var msg domain.Message
		err = rec.Value(func(v []byte) error {
			return json.Unmarshal(v, &msg)
		})
		if err != nil {
			return err
		}
		if msg.IsRead {
			return nil
		}
		msg.IsRead = true
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
}

// Message fetches a single record by id. Mostly a test seam.
func (s *Store) Message(id string) (domain.Message, error) {
	var msg domain.Message
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(messageIndexKey(id))
		if err == badger.ErrKeyNotFound {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		key, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		rec, err := txn.Get(key)
		if err != nil {
			return err
		}
		return rec.Value(func(v []byte) error {
			return json.Unmarshal(v, &msg)
		})
	})
	return msg, err
}
