// Package events publishes the outcome of every get-or-set call so other
// processes can observe cache activity.
package events

import (
	"context"
	"encoding/json"
	"time"

	uuid "github.com/hashicorp/go-uuid"
)

// AllKeys passed to Watch subscribes to every key.
const AllKeys = "*"

// Event records one terminal outcome for a key.
type Event struct {
	ID      string    `json:"id"`
	Key     string    `json:"key"`
	Outcome string    `json:"outcome"`
	At      time.Time `json:"at"`
}

// New returns an event for key stamped with a fresh ID and the current time.
func New(key, outcome string) Event {
	id, _ := uuid.GenerateUUID()
	return Event{ID: id, Key: key, Outcome: outcome, At: time.Now().UTC()}
}

// Publisher sends events to a transport.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Watcher streams events for a key, or AllKeys. The returned channel is
// closed once ctx is done.
type Watcher interface {
	Watch(ctx context.Context, key string) (<-chan Event, error)
}

func encode(ev Event) ([]byte, error) { return json.Marshal(ev) }

func decode(data []byte) (Event, error) {
	var ev Event
	err := json.Unmarshal(data, &ev)
	return ev, err
}
