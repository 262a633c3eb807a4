package tracking

import (
	"hash/fnv"
	"sync"

	"github.com/banshee-data/trajectory.report/internal/activity"
	"github.com/banshee-data/trajectory.report/internal/admission"
	"github.com/banshee-data/trajectory.report/internal/trajectory"
)

const deviceShards = 64

// deviceState is everything the service keeps for one device. mu serializes
// admission, classification and geofence evaluation for that device.
type deviceState struct {
	mu       sync.Mutex
	profile  *admission.Profile
	window   []trajectory.Sample
	activity *activity.Classification
	removed  bool
}

func (d *deviceState) push(s trajectory.Sample, size int) {
	d.window = append(d.window, s)
	if over := len(d.window) - size; over > 0 {
		d.window = append(d.window[:0], d.window[over:]...)
	}
}

type deviceShard struct {
	mu      sync.Mutex
	devices map[string]*deviceState
}

// deviceMap shards device states by id so lookups for unrelated devices
// rarely share a lock.
type deviceMap struct {
	shards [deviceShards]deviceShard
}

func newDeviceMap() *deviceMap {
	m := &deviceMap{}
	for i := range m.shards {
		m.shards[i].devices = make(map[string]*deviceState)
	}
	return m
}

func (m *deviceMap) shard(id string) *deviceShard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &m.shards[h.Sum32()%deviceShards]
}

// lock returns the device's state with its mutex held, creating it if needed.
// The caller must unlock it.
func (m *deviceMap) lock(id string) *deviceState {
	sh := m.shard(id)
	for {
		sh.mu.Lock()
		st, ok := sh.devices[id]
		if !ok {
			st = &deviceState{}
			sh.devices[id] = st
		}
		sh.mu.Unlock()

		st.mu.Lock()
		if !st.removed {
			return st
		}
		// Reset raced with us; retry against the fresh entry.
		st.mu.Unlock()
	}
}

// peek returns the device's state with its mutex held, or nil if the device
// is unknown.
func (m *deviceMap) peek(id string) *deviceState {
	sh := m.shard(id)
	sh.mu.Lock()
	st, ok := sh.devices[id]
	sh.mu.Unlock()
	if !ok {
		return nil
	}
	st.mu.Lock()
	if st.removed {
		st.mu.Unlock()
		return nil
	}
	return st
}

func (m *deviceMap) remove(id string) bool {
	sh := m.shard(id)
	sh.mu.Lock()
	st, ok := sh.devices[id]
	delete(sh.devices, id)
	sh.mu.Unlock()
	if !ok {
		return false
	}
	st.mu.Lock()
	st.removed = true
	st.mu.Unlock()
	return true
}

func (m *deviceMap) len() int {
	n := 0
	for i := range m.shards {
		sh := &m.shards[i]
		sh.mu.Lock()
		n += len(sh.devices)
		sh.mu.Unlock()
	}
	return n
}
