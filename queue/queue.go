// ABOUTME: Durable FIFO of webhook deliveries backed by BadgerDB
// ABOUTME: Messages are keyed by ULID so key order is arrival order; failed messages retry then dead-letter
package queue

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rotisserie/eris"
)

const (
	pendingPrefix = "pending/"
	deadPrefix    = "dead/"
)

// Message is one webhook delivery.
type Message struct {
	ID         string    `json:"id"`
	DealIDs    []string  `json:"deal_ids"`
	ReceivedAt time.Time `json:"received_at"`
	Attempts   int       `json:"attempts"`
	LastError  string    `json:"last_error,omitempty"`
}

// Entry is a stored message with the key it is stored under.
type Entry struct {
	Key string
	Message
}

// Queue stores webhook messages until a consumer acknowledges them.
type Queue struct {
	db  *badger.DB
	now func() time.Time
}

// Open opens (or creates) a queue in dir. An empty dir keeps the queue in
// memory.
func Open(dir string) (*Queue, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, eris.Wrapf(err, "failed to open queue at %q", dir)
	}
	return &Queue{db: db, now: time.Now}, nil
}

func (q *Queue) Close() error {
	return q.db.Close()
}

// Enqueue stores dealIDs as one message.
func (q *Queue) Enqueue(dealIDs []string) (Message, error) {
	msg := Message{
		ID:         uuid.NewString(),
		DealIDs:    dealIDs,
		ReceivedAt: q.now().UTC(),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return msg, eris.Wrap(err, "failed to encode message")
	}

	key := pendingPrefix + ulid.Make().String()
	err = q.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
	if err != nil {
		return msg, eris.Wrapf(err, "failed to enqueue message %s", msg.ID)
	}
	return msg, nil
}

// Peek returns up to limit pending messages, oldest first, without removing
// them. A limit of zero or less returns all of them.
func (q *Queue) Peek(limit int) ([]Entry, error) {
	return q.scan(pendingPrefix, limit)
}

// DeadLetters returns messages that ran out of attempts.
func (q *Queue) DeadLetters() ([]Entry, error) {
	return q.scan(deadPrefix, 0)
}

func (q *Queue) scan(prefix string, limit int) ([]Entry, error) {
	var entries []Entry
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			e := Entry{Key: string(item.KeyCopy(nil))}
			if err := json.Unmarshal(value, &e.Message); err != nil {
				return eris.Wrapf(err, "failed to decode message at %s", e.Key)
			}
			entries = append(entries, e)
		}
		return nil
	})
	if err != nil {
		return nil, eris.Wrapf(err, "failed to scan %s", strings.TrimSuffix(prefix, "/"))
	}
	return entries, nil
}

// Depth counts pending messages.
func (q *Queue) Depth() (int, error) {
	n := 0
	err := q.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(pendingPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, eris.Wrap(err, "failed to count pending messages")
	}
	return n, nil
}

// Ack removes processed entries.
func (q *Queue) Ack(entries []Entry) error {
	err := q.db.Update(func(txn *badger.Txn) error {
		for _, e := range entries {
			if err := txn.Delete([]byte(e.Key)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return eris.Wrap(err, "failed to ack messages")
	}
	return nil
}

// Nack records a failed attempt on each entry. Entries reaching maxAttempts
// move to the dead-letter prefix; the rest stay pending. It returns the
// number of entries dead-lettered.
func (q *Queue) Nack(entries []Entry, cause error, maxAttempts int) (int, error) {
	dead := 0
	err := q.db.Update(func(txn *badger.Txn) error {
		for _, e := range entries {
			msg := e.Message
			msg.Attempts++
			if cause != nil {
				msg.LastError = cause.Error()
			}
			data, err := json.Marshal(msg)
			if err != nil {
				return err
			}

			key := e.Key
			if msg.Attempts >= maxAttempts {
				if err := txn.Delete([]byte(e.Key)); err != nil {
					return err
				}
				key = deadPrefix + strings.TrimPrefix(e.Key, pendingPrefix)
				dead++
			}
			if err := txn.Set([]byte(key), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, eris.Wrap(err, "failed to nack messages")
	}
	return dead, nil
}

// Requeue moves every dead-lettered message back to pending with its
// attempts reset. It returns the number moved.
func (q *Queue) Requeue() (int, error) {
	dead, err := q.DeadLetters()
	if err != nil {
		return 0, err
	}
	err = q.db.Update(func(txn *badger.Txn) error {
		for _, e := range dead {
			msg := e.Message
			msg.Attempts = 0
			msg.LastError = ""
			data, err := json.Marshal(msg)
			if err != nil {
				return err
			}
			if err := txn.Delete([]byte(e.Key)); err != nil {
				return err
			}
			if err := txn.Set([]byte(pendingPrefix+strings.TrimPrefix(e.Key, deadPrefix)), data); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, eris.Wrap(err, "failed to requeue dead letters")
	}
	return len(dead), nil
}
