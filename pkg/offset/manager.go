package offset

// Manager tracks the highest committed offset (the watermark) per key.
// Watermarks only ever move forward: Advance merges by maximum, so
// reapplying an old commit round is a no-op.
//
// Like the record log, the Manager is owned by the node's processing loop
// and needs no locking.
type Manager struct {
	watermarks map[string]int64 // key -> highest committed offset
}

func NewManager() *Manager {
	return &Manager{
		watermarks: make(map[string]int64),
	}
}

// Advance raises the watermark for key to offset unless it is already
// higher. Idempotent and commutative across repeated application.
func (m *Manager) Advance(key string, offset int64) {
	if cur, ok := m.watermarks[key]; ok && cur >= offset {
		return
	}
	m.watermarks[key] = offset
}

func (m *Manager) Get(key string) (int64, bool) {
	offset, ok := m.watermarks[key]
	return offset, ok
}

// Snapshot returns the watermark for each requested key present in the
// table. Absent keys are omitted, not reported as zero.
func (m *Manager) Snapshot(keys []string) map[string]int64 {
	result := make(map[string]int64, len(keys))
	for _, key := range keys {
		if offset, ok := m.watermarks[key]; ok {
			result[key] = offset
		}
	}
	return result
}

func (m *Manager) Len() int {
	return len(m.watermarks)
}
