// Package subscription implements the second delivery tier: per-entity
// tables of which connections want which actions, and the handlers that
// maintain them and push matching events to those connections.
package subscription

import (
	"sort"
	"sync"
)

// Table maps action -> user id -> ordered connection ids. It is
// process-local and safe for concurrent use.
type Table struct {
	mu   sync.RWMutex
	subs map[string]map[string][]string
}

// NewTable creates an empty table.
func NewTable() *Table {
	return &Table{subs: make(map[string]map[string][]string)}
}

// Subscribe adds connectionID under action and userID. It returns false if
// the connection was already subscribed.
func (t *Table) Subscribe(action, userID, connectionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	users, ok := t.subs[action]
	if !ok {
		users = make(map[string][]string)
		t.subs[action] = users
	}
	for _, id := range users[userID] {
		if id == connectionID {
			return false
		}
	}
	users[userID] = append(users[userID], connectionID)
	return true
}

// Unsubscribe removes connectionID from one bucket. It returns false if the
// connection was not subscribed.
func (t *Table) Unsubscribe(action, userID, connectionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(action, userID, connectionID)
}

// Unregister removes connectionID from every action bucket of userID. An
// empty userID searches every user. It returns the number of buckets the
// connection was removed from.
func (t *Table) Unregister(userID, connectionID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for action, users := range t.subs {
		if userID != "" {
			if t.removeLocked(action, userID, connectionID) {
				removed++
			}
			continue
		}
		for uid := range users {
			if t.removeLocked(action, uid, connectionID) {
				removed++
			}
		}
	}
	return removed
}

// removeLocked drops empty buckets so the table does not grow with churn.
func (t *Table) removeLocked(action, userID, connectionID string) bool {
	users, ok := t.subs[action]
	if !ok {
		return false
	}
	conns := users[userID]
	for i, id := range conns {
		if id != connectionID {
			continue
		}
		next := make([]string, 0, len(conns)-1)
		next = append(next, conns[:i]...)
		next = append(next, conns[i+1:]...)
		if len(next) == 0 {
			delete(users, userID)
			if len(users) == 0 {
				delete(t.subs, action)
			}
		} else {
			users[userID] = next
		}
		return true
	}
	return false
}

// Connections returns a copy of the connections subscribed to action for userID.
func (t *Table) Connections(action, userID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	conns := t.subs[action][userID]
	if len(conns) == 0 {
		return nil
	}
	out := make([]string, len(conns))
	copy(out, conns)
	return out
}

// Actions returns the actions connectionID is subscribed to for userID, sorted.
func (t *Table) Actions(userID, connectionID string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var actions []string
	for action, users := range t.subs {
		for _, id := range users[userID] {
			if id == connectionID {
				actions = append(actions, action)
				break
			}
		}
	}
	sort.Strings(actions)
	return actions
}

// Len returns the total number of (action, user, connection) entries.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()

	n := 0
	for _, users := range t.subs {
		for _, conns := range users {
			n += len(conns)
		}
	}
	return n
}
