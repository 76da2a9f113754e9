package manager

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Manager manages the active operations of a single connection. All
// methods are safe for concurrent use; insert-if-absent and removal
// are atomic with respect to each other.
type Manager struct {
	mx            sync.RWMutex
	subscriptions map[string]*Subscription
}

func NewManager() *Manager {
	return &Manager{
		subscriptions: map[string]*Subscription{},
	}
}

// Subscription interface between ws and graphql execution
type Subscription struct {
	ConnectionID  string
	OperationID   string
	OperationName string
	Context       context.Context
	CancelFunc    context.CancelFunc
}

// unsubscribe unsubscribes
func (s *Subscription) unsubscribe() {
	if s.CancelFunc != nil {
		s.CancelFunc()
	}
}

// SubscriptionCount counts all or specific connection id subscriptions
// can be used for diagnostics
func (m *Manager) SubscriptionCount(connectionIDs ...string) int {
	m.mx.RLock()
	defer m.mx.RUnlock()

	if len(connectionIDs) == 0 {
		return len(m.subscriptions)
	}

	idmap := map[string]interface{}{}
	for _, id := range connectionIDs {
		idmap[id] = nil
	}

	count := 0
	for _, sub := range m.subscriptions {
		if _, ok := idmap[sub.ConnectionID]; ok {
			count++
		}
	}

	return count
}

// HasSubscription returns true if the subscription exists
func (m *Manager) HasSubscription(operationID string) bool {
	m.mx.RLock()
	defer m.mx.RUnlock()

	_, ok := m.subscriptions[operationID]
	return ok
}

// OperationIDs returns a sorted snapshot of the active operation ids
func (m *Manager) OperationIDs() []string {
	m.mx.RLock()
	defer m.mx.RUnlock()

	ids := make([]string, 0, len(m.subscriptions))
	for id := range m.subscriptions {
		ids = append(ids, id)
	}

	sort.Strings(ids)
	return ids
}

// Subscribe registers an operation id. It fails if an operation with
// the same id is still active, leaving the active one undisturbed.
func (m *Manager) Subscribe(sub *Subscription) error {
	m.mx.Lock()
	defer m.mx.Unlock()

	if _, ok := m.subscriptions[sub.OperationID]; ok {
		return fmt.Errorf("subscriber for %s already exists", sub.OperationID)
	}

	m.subscriptions[sub.OperationID] = sub
	return nil
}

// Unsubscribe cancels and removes a single operation. It returns the
// removed subscription or nil if the id was not active.
func (m *Manager) Unsubscribe(operationID string) *Subscription {
	m.mx.Lock()
	defer m.mx.Unlock()

	sub, ok := m.subscriptions[operationID]
	if ok {
		sub.unsubscribe()
		delete(m.subscriptions, operationID)
	}

	return sub
}

// UnsubscribeOwned removes the given subscription only while it still
// owns its id. A finished operation deregistering itself never evicts
// a successor that reused the id.
func (m *Manager) UnsubscribeOwned(sub *Subscription) bool {
	m.mx.Lock()
	defer m.mx.Unlock()

	current, ok := m.subscriptions[sub.OperationID]
	if !ok || current != sub {
		return false
	}

	sub.unsubscribe()
	delete(m.subscriptions, sub.OperationID)
	return true
}

// UnsubscribeAll unsubscribes and removes all operations
func (m *Manager) UnsubscribeAll() {
	m.mx.Lock()
	defer m.mx.Unlock()

	for _, sub := range m.subscriptions {
		sub.unsubscribe()
	}

	m.subscriptions = map[string]*Subscription{}
}
