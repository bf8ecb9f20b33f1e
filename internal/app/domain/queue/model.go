// Package queue defines the waiting queues participants sit in before a room
// forms.
package queue

import "time"

// Queue holds the ordered participants waiting for a room with the same
// (token, amount) key. Order is arrival order; matching takes the oldest
// entries first.
type Queue struct {
	Token     string
	Amount    string
	Members   []string
	UpdatedAt time.Time
}

// Key returns the composite queue key.
func Key(token, amount string) string {
	return token + "/" + amount
}

// Contains reports whether the UTXO id is queued.
func (q Queue) Contains(utxoID string) bool {
	for _, id := range q.Members {
		if id == utxoID {
			return true
		}
	}
	return false
}

// Remove returns the member list without the given UTXO id.
func (q Queue) Remove(utxoID string) []string {
	out := make([]string, 0, len(q.Members))
	for _, id := range q.Members {
		if id != utxoID {
			out = append(out, id)
		}
	}
	return out
}
