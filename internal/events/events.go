// Package events is a small in-process broadcast bus for migration
// lifecycle signals. Delivery is fire-and-forget: a subscriber whose
// buffer is full misses the event rather than blocking the publisher.
package events

import "sync"

// Event is implemented by every signal carried on the bus.
type Event interface {
	isEvent()
	// AccountID is the account the event concerns.
	AccountID() string
}

// MigrationStarted is published when an account leaves the NONE state.
type MigrationStarted struct {
	Account string
}

func (MigrationStarted) isEvent()            {}
func (e MigrationStarted) AccountID() string { return e.Account }

// MigrationComplete is published every time the orchestrator observes
// the terminal state. Receivers must tolerate duplicates.
type MigrationComplete struct {
	Account string
}

func (MigrationComplete) isEvent()            {}
func (e MigrationComplete) AccountID() string { return e.Account }

// KeyMaterialImported is published after key material from the remote
// key collection has been verified and stored locally.
type KeyMaterialImported struct {
	Account string
	Version int
}

func (KeyMaterialImported) isEvent()            {}
func (e KeyMaterialImported) AccountID() string { return e.Account }

// Bus fans published events out to every current subscriber.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]chan Event
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Publish delivers e to every subscriber with room in its buffer.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe registers a subscriber with the given buffer size. The
// returned cancel func unregisters it and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once

	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}

	return ch, cancel
}
