package logger

import (
	"sync"
)

// registry is the global named-logger registry.
var registry = &loggerRegistry{
	loggers: make(map[string]*Logger),
}

type loggerRegistry struct {
	mu      sync.RWMutex
	loggers map[string]*Logger
}

// Register stores a named logger in the registry.
func Register(name string, l *Logger) {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.loggers[name] = l
}

// Get retrieves a named logger. If the name is not registered it returns the
// global logger tagged with the requested component name.
func Get(name string) *Logger {
	registry.mu.RLock()
	l, ok := registry.loggers[name]
	registry.mu.RUnlock()
	if ok {
		return l
	}
	return GetGlobalLogger().WithComponent(name)
}

// RegisterDefaults seeds the registry with component loggers derived from
// base, or from the global logger when base is nil.
func RegisterDefaults(base *Logger, names ...string) {
	if base == nil {
		base = GetGlobalLogger()
	}
	for _, name := range names {
		Register(name, base.WithComponent(name))
	}
}

// OrDefault returns l when non-nil, otherwise the named logger.
func OrDefault(l *Logger, name string) *Logger {
	if l != nil {
		return l
	}
	return Get(name)
}
