// Package roster supplies the list of known sensors the stream subscribes
// to, either fixed in memory or revalidated from the REST API.
package roster

import (
	"reflect"
	"sync"

	"procodus.dev/facility-monitor/pkg/cache"
)

// Provider is the authoritative, reactive source of known sensors.
type Provider interface {
	// Sensors returns the current list.
	Sensors() []cache.Record
	// Subscribe returns a channel that receives the list each time it
	// changes, and the function that ends the subscription. A slow
	// subscriber only sees the latest list.
	Subscribe() (<-chan []cache.Record, func())
}

// IDs returns the resolvable sensor ids of list, in order, without
// duplicates.
func IDs(list []cache.Record) []string {
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, r := range list {
		id := r.ID()
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// feed holds the current list and fans changes out to subscribers.
type feed struct {
	mu     sync.Mutex
	list   []cache.Record
	subs   map[chan []cache.Record]struct{}
	loaded bool
}

func (f *feed) current() []cache.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	return cloneList(f.list)
}

// publish stores list and notifies subscribers. It reports whether the
// list changed.
func (f *feed) publish(list []cache.Record) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.loaded && reflect.DeepEqual(f.list, list) {
		return false
	}
	f.loaded = true
	f.list = cloneList(list)

	for ch := range f.subs {
		select {
		case <-ch:
		default:
		}
		ch <- cloneList(list)
	}
	return true
}

func (f *feed) subscribe() (<-chan []cache.Record, func()) {
	ch := make(chan []cache.Record, 1)

	f.mu.Lock()
	if f.subs == nil {
		f.subs = make(map[chan []cache.Record]struct{})
	}
	f.subs[ch] = struct{}{}
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, ch)
			f.mu.Unlock()
		})
	}
}

func cloneList(list []cache.Record) []cache.Record {
	if list == nil {
		return nil
	}
	out := make([]cache.Record, len(list))
	for i, r := range list {
		out[i] = r.Clone()
	}
	return out
}

// Static is a Provider whose list is set by the caller.
type Static struct {
	feed feed
}

// NewStatic creates a Static provider holding list.
func NewStatic(list []cache.Record) *Static {
	s := &Static{}
	s.feed.publish(list)
	return s
}

// FromIDs builds a roster list of {"id": id} records.
func FromIDs(ids ...string) []cache.Record {
	out := make([]cache.Record, 0, len(ids))
	for _, id := range ids {
		out = append(out, cache.Record{"id": id})
	}
	return out
}

// Set replaces the list. Subscribers are notified when it differs.
func (s *Static) Set(list []cache.Record) {
	s.feed.publish(list)
}

// Sensors implements Provider.
func (s *Static) Sensors() []cache.Record {
	return s.feed.current()
}

// Subscribe implements Provider.
func (s *Static) Subscribe() (<-chan []cache.Record, func()) {
	return s.feed.subscribe()
}

var _ Provider = (*Static)(nil)
