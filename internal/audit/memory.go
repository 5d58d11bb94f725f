package audit

import (
	"context"
	"sync"
)

// MemoryRecorder 在内存中保存审计记录，主要用于测试与单进程运行。
type MemoryRecorder struct {
	mu      sync.RWMutex
	entries []Entry
	cap     int
}

// NewMemoryRecorder 创建一个内存审计记录器。
func NewMemoryRecorder(capacity int) *MemoryRecorder {
	if capacity <= 0 {
		capacity = 1024
	}
	return &MemoryRecorder{cap: capacity}
}

// Append 追加一条记录，超出容量时丢弃最旧的。
func (m *MemoryRecorder) Append(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	if len(m.entries) > m.cap {
		m.entries = m.entries[len(m.entries)-m.cap:]
	}
	return nil
}

// Tail 返回最近的 limit 条记录，按时间倒序排列。
func (m *MemoryRecorder) Tail(_ context.Context, limit int) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.entries) {
		limit = len(m.entries)
	}
	results := make([]Entry, 0, limit)
	for i := len(m.entries) - 1; i >= len(m.entries)-limit; i-- {
		results = append(results, m.entries[i])
	}
	return results, nil
}
