// Package queue provides the durable FIFO that decouples check execution
// from persistence, plus the edge-triggered signal consumers park on.
package queue

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"time"

	"github.com/oklog/ulid"
)

// Queue is an at-least-once FIFO backed by a sqlite table. Messages stay in
// the table until the consumer acknowledges them with Delete, so a consumer
// crash replays them; processing must tolerate duplicates.
type Queue struct {
	db   *sql.DB
	name string
}

// Message is one dequeued envelope. Receipt must be passed back to Delete.
type Message struct {
	ID      int64
	Receipt string
	Body    []byte
}

func New(db *sql.DB, name string) *Queue {
	return &Queue{db: db, name: name}
}

// Post appends a serialized envelope to the queue.
func (q *Queue) Post(body []byte) error {
	receipt, err := ulid.New(ulid.Timestamp(time.Now()), rand.Reader)
	if err != nil {
		return fmt.Errorf("queue %s: receipt: %w", q.name, err)
	}
	_, err = q.db.Exec(`
		INSERT INTO queue_messages(queue, receipt, body, created) VALUES(?, ?, ?, ?)
	`, q.name, receipt.String(), string(body), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("queue %s: post: %w", q.name, err)
	}
	return nil
}

// Receive returns up to limit messages in insertion order. It returns an
// empty slice once the queue is drained; callers re-poll on the next signal
// instead of blocking here.
func (q *Queue) Receive(limit int) ([]Message, error) {
	rows, err := q.db.Query(`
		SELECT id, receipt, body FROM queue_messages WHERE queue = ? ORDER BY id LIMIT ?
	`, q.name, limit)
	if err != nil {
		return nil, fmt.Errorf("queue %s: receive: %w", q.name, err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var (
			m    Message
			body string
		)
		if err := rows.Scan(&m.ID, &m.Receipt, &body); err != nil {
			return nil, err
		}
		m.Body = []byte(body)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Delete acknowledges a processed message. The receipt must match the one
// handed out by Receive.
func (q *Queue) Delete(id int64, receipt string) error {
	res, err := q.db.Exec(`
		DELETE FROM queue_messages WHERE queue = ? AND id = ? AND receipt = ?
	`, q.name, id, receipt)
	if err != nil {
		return fmt.Errorf("queue %s: delete %d: %w", q.name, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("queue %s: delete %d: no message with that receipt", q.name, id)
	}
	return nil
}

// Len reports the number of pending messages.
func (q *Queue) Len() (int, error) {
	var n int
	row := q.db.QueryRow("SELECT COUNT(*) FROM queue_messages WHERE queue = ?", q.name)
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// Signal is an edge-triggered wakeup shared between the scheduler and the
// consumer loops. Setting an already-set signal coalesces into one wakeup,
// so idle consumers never busy-poll and a burst of sets costs one drain.
type Signal struct {
	ch chan struct{}
}

func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

// Set releases one waiter. Non-blocking.
func (s *Signal) Set() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until the signal is set or the context is cancelled.
func (s *Signal) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ch:
		return nil
	}
}
