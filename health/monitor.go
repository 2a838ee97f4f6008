package health

import (
	"sort"
	"sync"
	"time"
)

// Monitor collects per-component statuses and rolls them up for the
// admin endpoint. Components report through Update; readers always get
// copies.
type Monitor struct {
	mu         sync.RWMutex
	components map[string]Status
}

// NewMonitor creates an empty monitor
func NewMonitor() *Monitor {
	return &Monitor{components: make(map[string]Status)}
}

// Update records the status for name, stamping component and time when
// the reporter left them unset.
func (m *Monitor) Update(name string, status Status) {
	status.Component = name
	if status.Timestamp.IsZero() {
		status.Timestamp = time.Now()
	}

	m.mu.Lock()
	m.components[name] = status
	m.mu.Unlock()
}

// UpdateHealthy reports name as healthy
func (m *Monitor) UpdateHealthy(name, message string) {
	m.Update(name, NewHealthy(name, message))
}

// UpdateUnhealthy reports name as unhealthy
func (m *Monitor) UpdateUnhealthy(name, message string) {
	m.Update(name, NewUnhealthy(name, message))
}

// UpdateDegraded reports name as degraded
func (m *Monitor) UpdateDegraded(name, message string) {
	m.Update(name, NewDegraded(name, message))
}

// Get returns the last reported status for name
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status, ok := m.components[name]
	return status, ok
}

// GetAll returns a snapshot of every tracked component
func (m *Monitor) GetAll() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	snapshot := make(map[string]Status, len(m.components))
	for name, status := range m.components {
		snapshot[name] = status
	}
	return snapshot
}

// Remove stops tracking name
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	delete(m.components, name)
	m.mu.Unlock()
}

// AggregateHealth rolls every component status into one system status.
// The worst component state wins.
func (m *Monitor) AggregateHealth(systemName string) Status {
	m.mu.RLock()
	parts := make([]Status, 0, len(m.components))
	for _, status := range m.components {
		parts = append(parts, status)
	}
	m.mu.RUnlock()

	return Aggregate(systemName, parts)
}

// ListComponents returns tracked component names in sorted order
func (m *Monitor) ListComponents() []string {
	m.mu.RLock()
	names := make([]string, 0, len(m.components))
	for name := range m.components {
		names = append(names, name)
	}
	m.mu.RUnlock()

	sort.Strings(names)
	return names
}
