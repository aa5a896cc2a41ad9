package store

import (
	"sort"
	"sync"

	"github.com/michaelquigley/pfxlog"
	"github.com/openziti/hostctl/kernel/model"
	cmap "github.com/orcaman/concurrent-map/v2"
	"github.com/pkg/errors"
)

// MemoryStore is the in-process StateStore. Each resource carries its own lock, so distinct
// resources never contend.
type MemoryStore struct {
	records cmap.ConcurrentMap[string, *record]

	subMu       sync.RWMutex
	subscribers map[int]chan model.Transition
	nextSub     int
}

type record struct {
	mu       sync.RWMutex
	snapshot model.Snapshot
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:     cmap.New[*record](),
		subscribers: make(map[int]chan model.Transition),
	}
}

// Register creates the record for a resource in the unknown state.
func (s *MemoryStore) Register(resourceId string, kind model.ResourceKind) error {
	rec := &record{snapshot: model.Snapshot{
		ResourceId: resourceId,
		Kind:       kind,
		State:      model.StateUnknown,
	}}
	if !s.records.SetIfAbsent(resourceId, rec) {
		return errors.Wrapf(ErrDuplicateResource, "resource [%s]", resourceId)
	}
	return nil
}

func (s *MemoryStore) Get(resourceId string) (model.Snapshot, error) {
	rec, ok := s.records.Get(resourceId)
	if !ok {
		return model.Snapshot{}, errors.Wrapf(ErrResourceNotFound, "resource [%s]", resourceId)
	}
	rec.mu.RLock()
	defer rec.mu.RUnlock()
	return rec.snapshot.Clone(), nil
}

func (s *MemoryStore) List() []model.Snapshot {
	result := make([]model.Snapshot, 0, s.records.Count())
	for _, rec := range s.records.Items() {
		rec.mu.RLock()
		result = append(result, rec.snapshot.Clone())
		rec.mu.RUnlock()
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ResourceId < result[j].ResourceId })
	return result
}

// Mutate runs fn on a working copy under the resource lock and commits it when fn succeeds.
// Notifications are published before the lock is released, which keeps them in commit order.
func (s *MemoryStore) Mutate(resourceId string, fn MutateFunc) (model.Snapshot, error) {
	rec, ok := s.records.Get(resourceId)
	if !ok {
		return model.Snapshot{}, errors.Wrapf(ErrResourceNotFound, "resource [%s]", resourceId)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	working := &Record{Snapshot: rec.snapshot.Clone()}
	if err := fn(working); err != nil {
		return rec.snapshot.Clone(), err
	}
	rec.snapshot = working.Snapshot.Clone()

	for _, t := range working.transitions {
		s.publish(t)
	}
	return rec.snapshot.Clone(), nil
}

// Subscribe returns a channel of transitions and a cancel func that closes it.
func (s *MemoryStore) Subscribe(buffer int) (<-chan model.Transition, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan model.Transition, buffer)

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subscribers, id)
			s.subMu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (s *MemoryStore) publish(t model.Transition) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for id, ch := range s.subscribers {
		select {
		case ch <- t:
		default:
			pfxlog.Logger().WithField("resource", t.ResourceId).
				WithField("subscriber", id).
				Warnf("subscriber full, dropping transition [%s -> %s]", t.From, t.To)
		}
	}
}
