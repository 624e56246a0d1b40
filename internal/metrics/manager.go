package metrics

import (
	"sync"
)

// Manager manages all application metrics.
type Manager struct {
	Application *ApplicationMetrics
	mu          sync.RWMutex
}

var globalManager *Manager
var managerOnce sync.Once

// GetManager returns the global metrics manager (singleton).
func GetManager() *Manager {
	managerOnce.Do(func() {
		globalManager = &Manager{
			Application: InitializeApplicationMetrics(),
		}
	})
	return globalManager
}

// GetAllMetrics returns all metrics as a map, for the debug/status endpoint.
func (m *Manager) GetAllMetrics() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return map[string]interface{}{
		"application": m.Application.GetStats(),
	}
}
