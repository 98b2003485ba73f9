package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/markdave123-py/pdfchat/internal/core"
	"github.com/markdave123-py/pdfchat/internal/models"
)

// queueMessage is what Badger stores under the message key.
type queueMessage struct {
	ID           string              `json:"id"`
	Body         models.IngestionJob `json:"body"`
	EnqueuedAt   time.Time           `json:"enqueued_at"`
	VisibleAt    time.Time           `json:"visible_at"`
	ReceiveCount int                 `json:"receive_count"`
}

// BadgerQueue is a persistent queue on a local Badger database.
//
// Keys:
//
//	queue:{name}:msg:{id}                 -> JSON message
//	queue:{name}:index:{visibleAt}:{id}   -> empty, ordered by visibility time
//
// Badger holds an exclusive directory lock, so producer and consumers must
// live in the same process. Receives are serialised by claimMu; a claim or
// ack that still loses an optimistic conflict (to an ack of the same
// message) is retried.
type BadgerQueue struct {
	db                *badger.DB
	queueName         string
	visibilityTimeout time.Duration
	now               func() time.Time
	claimMu           sync.Mutex
}

// maxConflictRetries bounds retries of a transaction that hit
// badger.ErrConflict.
const maxConflictRetries = 5

func NewBadgerQueue(db *badger.DB, queueName string, visibilityTimeout time.Duration) (*BadgerQueue, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if queueName == "" {
		return nil, errors.New("queue name is required")
	}
	if visibilityTimeout <= 0 {
		visibilityTimeout = 5 * time.Minute
	}
	return &BadgerQueue{
		db:                db,
		queueName:         queueName,
		visibilityTimeout: visibilityTimeout,
		now:               time.Now,
	}, nil
}

// Enqueue writes the message and its index entry in one transaction.
// onAssigned runs before the transaction commits.
func (q *BadgerQueue) Enqueue(ctx context.Context, job models.IngestionJob, onAssigned func(ctx context.Context, jobID string) error) (string, error) {
	id := uuid.New().String()
	job.JobID = id
	now := q.now()

	msg := queueMessage{
		ID:         id,
		Body:       job,
		EnqueuedAt: now,
		VisibleAt:  now,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal queue message: %w", err)
	}

	err = q.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(q.msgKey(id), data); err != nil {
			return err
		}
		if err := txn.Set(q.indexKey(msg.VisibleAt, id), []byte{}); err != nil {
			return err
		}
		if onAssigned != nil {
			return onAssigned(ctx, id)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// Receive claims the next visible message and pushes its visibility out by
// the visibility timeout.
func (q *BadgerQueue) Receive(ctx context.Context) (*core.Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	q.claimMu.Lock()
	defer q.claimMu.Unlock()

	var msg queueMessage
	err := q.update(func(txn *badger.Txn) error {
		msg = queueMessage{}
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := q.indexPrefix()
		it := txn.NewIterator(opts)
		defer it.Close()

		now := q.now()
		var (
			found    bool
			indexKey []byte
		)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)
			ts, id, err := q.parseIndexKey(key)
			if err != nil {
				continue
			}
			// Index keys sort by visibility time.
			if ts.After(now) {
				break
			}

			item, err := txn.Get(q.msgKey(id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				if err := txn.Delete(key); err != nil {
					return err
				}
				continue
			}
			if err != nil {
				return err
			}
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			}); err != nil {
				return err
			}
			found = true
			indexKey = key
			break
		}
		if !found {
			return core.ErrNoMessage
		}

		msg.ReceiveCount++
		msg.VisibleAt = now.Add(q.visibilityTimeout)
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		if err := txn.Set(q.msgKey(msg.ID), data); err != nil {
			return err
		}
		if err := txn.Delete(indexKey); err != nil {
			return err
		}
		return txn.Set(q.indexKey(msg.VisibleAt, msg.ID), []byte{})
	})
	if err != nil {
		return nil, err
	}

	id := msg.ID
	return &core.Delivery{
		Job:     msg.Body,
		Attempt: msg.ReceiveCount,
		Ack:     func() error { return q.delete(id) },
	}, nil
}

// update runs fn in a read-write transaction, rerunning it on conflict.
func (q *BadgerQueue) update(fn func(txn *badger.Txn) error) error {
	var err error
	for range maxConflictRetries {
		err = q.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (q *BadgerQueue) delete(id string) error {
	return q.update(func(txn *badger.Txn) error {
		item, err := txn.Get(q.msgKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		var current queueMessage
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &current)
		}); err != nil {
			return err
		}

		if err := txn.Delete(q.indexKey(current.VisibleAt, id)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Delete(q.msgKey(id))
	})
}

// Close is a no-op; the database is owned by the caller.
func (q *BadgerQueue) Close() error {
	return nil
}

func (q *BadgerQueue) msgKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", q.queueName, id))
}

func (q *BadgerQueue) indexPrefix() []byte {
	return []byte(fmt.Sprintf("queue:%s:index:", q.queueName))
}

func (q *BadgerQueue) indexKey(visibleAt time.Time, id string) []byte {
	// Zero padded so lexical order matches numeric order.
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", q.queueName, visibleAt.UnixNano(), id))
}

func (q *BadgerQueue) parseIndexKey(key []byte) (time.Time, string, error) {
	rest, ok := strings.CutPrefix(string(key), string(q.indexPrefix()))
	if !ok || len(rest) < 22 || rest[20] != ':' {
		return time.Time{}, "", fmt.Errorf("invalid index key %q", key)
	}
	ts, err := strconv.ParseInt(rest[:20], 10, 64)
	if err != nil {
		return time.Time{}, "", err
	}
	return time.Unix(0, ts), rest[21:], nil
}

var _ core.JobQueue = (*BadgerQueue)(nil)
