// Package rconfig loads named connection-profile configuration from YAML,
// with ${VAR} environment substitution and fsnotify-driven hot reload. The
// cmd/ tools (redicore-cli, redicore-bench) take their settings from
// flags and do not use this package. The
// core library packages (resp, rconn, rpool, rpipe, rpubsub) never depend
// on this package — they take an rpool.Options/rconn.Options value
// directly, so a program embedding redicore as a library is never forced
// to adopt this config format.
package rconfig

import (
	"fmt"
	"log"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration file shape.
type Config struct {
	Defaults PoolDefaults        `yaml:"defaults"`
	Pools    map[string]Profile `yaml:"pools"`
}

// PoolDefaults holds settings applied to a Profile that doesn't override
// them.
type PoolDefaults struct {
	MinConnections int           `yaml:"min_connections"`
	MaxConnections int           `yaml:"max_connections"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	MaxLifetime    time.Duration `yaml:"max_lifetime"`
	AcquireTimeout time.Duration `yaml:"acquire_timeout"`
}

// Profile is one named Redis connection target.
type Profile struct {
	Addr           string         `yaml:"addr"`
	Username       string         `yaml:"username"`
	Password       string         `yaml:"password"`
	DB             int            `yaml:"db"`
	TLS            bool           `yaml:"tls"`
	MinConnections *int           `yaml:"min_connections,omitempty"`
	MaxConnections *int           `yaml:"max_connections,omitempty"`
	IdleTimeout    *time.Duration `yaml:"idle_timeout,omitempty"`
	MaxLifetime    *time.Duration `yaml:"max_lifetime,omitempty"`
	AcquireTimeout *time.Duration `yaml:"acquire_timeout,omitempty"`
}

func (p Profile) EffectiveMinConnections(d PoolDefaults) int {
	if p.MinConnections != nil {
		return *p.MinConnections
	}
	return d.MinConnections
}

func (p Profile) EffectiveMaxConnections(d PoolDefaults) int {
	if p.MaxConnections != nil {
		return *p.MaxConnections
	}
	return d.MaxConnections
}

func (p Profile) EffectiveIdleTimeout(d PoolDefaults) time.Duration {
	if p.IdleTimeout != nil {
		return *p.IdleTimeout
	}
	return d.IdleTimeout
}

func (p Profile) EffectiveMaxLifetime(d PoolDefaults) time.Duration {
	if p.MaxLifetime != nil {
		return *p.MaxLifetime
	}
	return d.MaxLifetime
}

func (p Profile) EffectiveAcquireTimeout(d PoolDefaults) time.Duration {
	if p.AcquireTimeout != nil {
		return *p.AcquireTimeout
	}
	return d.AcquireTimeout
}

// Redacted returns a copy of p with Password masked, for logging.
func (p Profile) Redacted() Profile {
	c := p
	if c.Password != "" {
		c.Password = "***REDACTED***"
	}
	return c
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

func substituteEnvVars(data []byte) []byte {
	return envVarPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := envVarPattern.FindSubmatch(match)[1]
		if val, ok := os.LookupEnv(string(varName)); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML profile file with ${VAR} substitution.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	data = substituteEnvVars(data)

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Defaults.MinConnections == 0 {
		cfg.Defaults.MinConnections = 1
	}
	if cfg.Defaults.MaxConnections == 0 {
		cfg.Defaults.MaxConnections = 10
	}
	if cfg.Defaults.IdleTimeout == 0 {
		cfg.Defaults.IdleTimeout = 5 * time.Minute
	}
	if cfg.Defaults.MaxLifetime == 0 {
		cfg.Defaults.MaxLifetime = 30 * time.Minute
	}
	if cfg.Defaults.AcquireTimeout == 0 {
		cfg.Defaults.AcquireTimeout = 10 * time.Second
	}
}

func validate(cfg *Config) error {
	for name, p := range cfg.Pools {
		if p.Addr == "" {
			return fmt.Errorf("pool %q: addr is required", name)
		}
	}
	return nil
}

// Watcher watches the config file for changes and invokes callback with
// the freshly reloaded Config.
type Watcher struct {
	path     string
	callback func(*Config)
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	stopCh   chan struct{}
}

// NewWatcher starts watching path for changes.
func NewWatcher(path string, callback func(*Config)) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if err := w.Add(path); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching config file: %w", err)
	}

	cw := &Watcher{path: path, callback: callback, watcher: w, stopCh: make(chan struct{})}
	go cw.run()
	return cw, nil
}

func (cw *Watcher) run() {
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(500*time.Millisecond, cw.reload)
			}
		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			log.Printf("[rconfig] watcher error: %v", err)
		case <-cw.stopCh:
			return
		}
	}
}

func (cw *Watcher) reload() {
	cw.mu.Lock()
	defer cw.mu.Unlock()

	cfg, err := Load(cw.path)
	if err != nil {
		log.Printf("[rconfig] hot-reload failed: %v", err)
		return
	}
	log.Printf("[rconfig] configuration reloaded from %s", cw.path)
	cw.callback(cfg)
}

// Stop stops the watcher.
func (cw *Watcher) Stop() error {
	close(cw.stopCh)
	return cw.watcher.Close()
}
