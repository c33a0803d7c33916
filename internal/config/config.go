// Package config loads the layered runner configuration: a global default
// plus per-project overrides plus named timeout profiles, read from
// runner-config.json under the state directory (spec §6 "Persisted layout").
// Changes made through the Store's setters are held in memory and are not
// written back to the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/taskrunner/runner/internal/queue"
)

func unmarshalKey(v *viper.Viper, key string, out any) error {
	return v.UnmarshalKey(key, out, viper.DecodeHook(mapstructure.StringToTimeDurationHookFunc()))
}

// TimeoutProfile names a per-TaskType deadline set, surfaced read-only via
// GET /supervisor/timeout-profiles.
type TimeoutProfile struct {
	Name     string                          `mapstructure:"name" json:"name"`
	Deadline map[queue.TaskType]time.Duration `mapstructure:"deadline" json:"deadline"`
}

// GlobalConfig is the fleet-wide default, overridable per project.
type GlobalConfig struct {
	DefaultNamespace string        `mapstructure:"default_namespace" json:"default_namespace"`
	MaxRetries       int           `mapstructure:"max_retries" json:"max_retries"`
	RestartMax       int           `mapstructure:"restart_max" json:"restart_max"`
	StaleRunningAge  time.Duration `mapstructure:"stale_running_age" json:"stale_running_age"`
	Enabled          bool          `mapstructure:"enabled" json:"enabled"`
}

// ProjectConfig overrides a subset of GlobalConfig for one project id.
type ProjectConfig struct {
	ProjectID  string `mapstructure:"project_id" json:"project_id"`
	Namespace  string `mapstructure:"namespace" json:"namespace"`
	MaxRetries *int   `mapstructure:"max_retries" json:"max_retries,omitempty"`
	RestartMax *int   `mapstructure:"restart_max" json:"restart_max,omitempty"`
	Enabled    *bool  `mapstructure:"enabled" json:"enabled,omitempty"`
}

// Resolved merges a ProjectConfig's overrides onto GlobalConfig.
func (g GlobalConfig) Resolved(p *ProjectConfig) GlobalConfig {
	if p == nil {
		return g
	}
	out := g
	if p.MaxRetries != nil {
		out.MaxRetries = *p.MaxRetries
	}
	if p.RestartMax != nil {
		out.RestartMax = *p.RestartMax
	}
	if p.Enabled != nil {
		out.Enabled = *p.Enabled
	}
	return out
}

func defaultGlobalConfig() GlobalConfig {
	return GlobalConfig{
		DefaultNamespace: "default",
		MaxRetries:       3,
		RestartMax:       3,
		StaleRunningAge:  5 * time.Minute,
		Enabled:          true,
	}
}

func defaultTimeoutProfiles() []TimeoutProfile {
	return []TimeoutProfile{
		{Name: "default", Deadline: map[queue.TaskType]time.Duration{
			queue.TaskTypeReadInfo:       2 * time.Minute,
			queue.TaskTypeImplementation: 20 * time.Minute,
			queue.TaskTypeReport:         5 * time.Minute,
		}},
	}
}

// Store holds the layered configuration, backed by a viper instance bound
// to runner-config.json. Grounded on the teacher's cmd/task-orchestrator
// config loading (viper for layered defaults/file/env), generalized from a
// single flat config struct to global+per-project+profiles.
type Store struct {
	v *viper.Viper

	mu       sync.RWMutex
	global   GlobalConfig
	projects map[string]*ProjectConfig
	profiles []TimeoutProfile
}

// Load reads runner-config.json from path (if present) layered over
// defaults; env vars prefixed RUNNER_ override file values, matching the
// teacher's own viper precedence order.
func Load(path string) (*Store, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.SetEnvPrefix("RUNNER")
	v.AutomaticEnv()

	s := &Store{
		v:        v,
		global:   defaultGlobalConfig(),
		projects: make(map[string]*ProjectConfig),
		profiles: defaultTimeoutProfiles(),
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok || errors.Is(err, os.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var global GlobalConfig
	if v.IsSet("global") {
		if err := unmarshalKey(v, "global", &global); err != nil {
			return nil, fmt.Errorf("parse global config: %w", err)
		}
		s.global = global
	}

	var projects []ProjectConfig
	if v.IsSet("projects") {
		if err := unmarshalKey(v, "projects", &projects); err != nil {
			return nil, fmt.Errorf("parse project configs: %w", err)
		}
		for i := range projects {
			p := projects[i]
			s.projects[p.ProjectID] = &p
		}
	}

	var profiles []TimeoutProfile
	if v.IsSet("timeout_profiles") {
		if err := unmarshalKey(v, "timeout_profiles", &profiles); err != nil {
			return nil, fmt.Errorf("parse timeout profiles: %w", err)
		}
		s.profiles = profiles
	}

	return s, nil
}

// Global returns the current global configuration.
func (s *Store) Global() GlobalConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.global
}

// SetGlobal replaces the global configuration.
func (s *Store) SetGlobal(g GlobalConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.global = g
}

// Project returns the resolved config for a project, falling back to
// global when no override exists.
func (s *Store) Project(projectID string) GlobalConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.global.Resolved(s.projects[projectID])
}

// NamespaceFor resolves the dispatcher namespace a project's tasks should
// be enqueued into: the project override's namespace if set, else the
// global default.
func (s *Store) NamespaceFor(projectID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if p, ok := s.projects[projectID]; ok && p.Namespace != "" {
		return p.Namespace
	}
	return s.global.DefaultNamespace
}

// SetProject replaces a project-level override wholesale.
func (s *Store) SetProject(p ProjectConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p
	s.projects[p.ProjectID] = &cp
}

// MutateProject applies fn to projectID's existing override (zero-value if
// none exists yet) and upserts the result, so a caller that only wants to
// flip one field doesn't clobber the rest of a previously-set override.
func (s *Store) MutateProject(projectID string, fn func(p *ProjectConfig)) ProjectConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.projects[projectID]
	var cp ProjectConfig
	if ok {
		cp = *existing
	} else {
		cp = ProjectConfig{ProjectID: projectID}
	}
	fn(&cp)
	cp.ProjectID = projectID
	s.projects[projectID] = &cp
	return cp
}

// TimeoutProfiles returns the configured named timeout profiles.
func (s *Store) TimeoutProfiles() []TimeoutProfile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]TimeoutProfile(nil), s.profiles...)
}
