package config

import "sync"

// global holds a process-wide Config for callers (cmd/pgfrontdoor) that
// want a singleton rather than threading *Config through every constructor.
var (
	globalMu  sync.RWMutex
	globalCfg *Config
)

// SetGlobal installs cfg as the process-wide Config. Panics if called twice.
func SetGlobal(cfg *Config) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalCfg != nil {
		panic("config: SetGlobal called twice")
	}
	globalCfg = cfg
}

// Global returns the process-wide Config. Panics if SetGlobal was never called.
func Global() *Config {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalCfg == nil {
		panic("config: Global called before SetGlobal")
	}
	cloned := *globalCfg
	return &cloned
}
