package geofence

import (
	"hash/fnv"
	"sync"
	"time"
)

const numShards = 32

// Key identifies a (geofence, device) pair.
type Key struct {
	GeofenceID string `json:"geofence_id"`
	DeviceID   string `json:"device_id"`
}

type entry struct {
	mu   sync.Mutex
	m    Membership
	dead bool // set under mu when pruned
}

type shard struct {
	mu      sync.Mutex
	entries map[Key]*entry
}

// MembershipStore is a sharded map of memberships. Each pair has its own
// lock, so evaluations for unrelated pairs never wait on each other beyond
// the shard map lookup.
type MembershipStore struct {
	shards [numShards]shard
}

// NewMembershipStore returns an empty store.
func NewMembershipStore() *MembershipStore {
	s := &MembershipStore{}
	for i := range s.shards {
		s.shards[i].entries = make(map[Key]*entry)
	}
	return s
}

func (s *MembershipStore) shardFor(k Key) *shard {
	h := fnv.New32a()
	h.Write([]byte(k.GeofenceID))
	h.Write([]byte{0})
	h.Write([]byte(k.DeviceID))
	return &s.shards[h.Sum32()%numShards]
}

// Update runs fn with exclusive access to the membership for k, creating a
// zero (outside) membership if none exists.
func (s *MembershipStore) Update(k Key, fn func(*Membership)) {
	sh := s.shardFor(k)
	for {
		sh.mu.Lock()
		e, ok := sh.entries[k]
		if !ok {
			e = &entry{}
			sh.entries[k] = e
		}
		sh.mu.Unlock()

		e.mu.Lock()
		if e.dead {
			// Pruned between lookup and lock; retry against a fresh entry.
			e.mu.Unlock()
			continue
		}
		fn(&e.m)
		e.mu.Unlock()
		return
	}
}

// Get returns a copy of the membership for k.
func (s *MembershipStore) Get(k Key) (Membership, bool) {
	sh := s.shardFor(k)
	sh.mu.Lock()
	e, ok := sh.entries[k]
	sh.mu.Unlock()
	if !ok {
		return Membership{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dead {
		return Membership{}, false
	}
	return e.m, true
}

// Set stores m for k, replacing any existing membership. Used to restore
// persisted state at startup.
func (s *MembershipStore) Set(k Key, m Membership) {
	s.Update(k, func(cur *Membership) { *cur = m })
}

// Len returns the number of tracked pairs.
func (s *MembershipStore) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.entries)
		sh.mu.Unlock()
	}
	return n
}

// Prune removes memberships last evaluated before cutoff and returns how
// many were removed.
func (s *MembershipStore) Prune(cutoff time.Time) int {
	return s.removeIf(func(k Key, m Membership) bool {
		return m.LastEvaluated.Before(cutoff)
	})
}

// DeleteDevice removes every membership of deviceID.
func (s *MembershipStore) DeleteDevice(deviceID string) int {
	return s.removeIf(func(k Key, _ Membership) bool { return k.DeviceID == deviceID })
}

// DeleteGeofence removes every membership of geofenceID.
func (s *MembershipStore) DeleteGeofence(geofenceID string) int {
	return s.removeIf(func(k Key, _ Membership) bool { return k.GeofenceID == geofenceID })
}

func (s *MembershipStore) removeIf(match func(Key, Membership) bool) int {
	removed := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for k, e := range sh.entries {
			e.mu.Lock()
			if match(k, e.m) {
				e.dead = true
				delete(sh.entries, k)
				removed++
			}
			e.mu.Unlock()
		}
		sh.mu.Unlock()
	}
	return removed
}

// Snapshot returns a copy of every membership.
func (s *MembershipStore) Snapshot() map[Key]Membership {
	out := make(map[Key]Membership)
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for k, e := range sh.entries {
			e.mu.Lock()
			out[k] = e.m
			e.mu.Unlock()
		}
		sh.mu.Unlock()
	}
	return out
}
