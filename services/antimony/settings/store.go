// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package settings

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/mastevb/vscode-antimony/pkg/logging"
)

// EnvPrefix prefixes environment overrides, e.g. ANTIMONY_PYTHONINTERPRETER.
const EnvPrefix = "ANTIMONY"

// DefaultPath returns ~/.antimony/settings.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".antimony", "settings.yaml"), nil
}

// Store reads and writes the settings file.
//
// Thread Safety:
//
//	Safe for concurrent use.
type Store struct {
	path   string
	logger *logging.Logger

	mu       sync.RWMutex
	current  Settings
	sections map[string]interface{}
	loaded   bool
}

// NewStore creates a store for the file at path. Nothing is read until
// Load.
func NewStore(path string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Store{
		path:    path,
		logger:  logger,
		current: Default(),
	}
}

// Path returns the settings file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the file, creating it with defaults on first run.
func (s *Store) Load() (Settings, error) {
	if _, err := os.Stat(s.path); os.IsNotExist(err) {
		s.logger.Info("First run detected, creating settings", "path", s.path)
		if err := createDefault(s.path); err != nil {
			return Settings{}, err
		}
	}
	if _, err := s.Reload(); err != nil {
		return Settings{}, err
	}
	return s.Get(), nil
}

// Reload re-reads the file and returns the top-level sections whose
// values changed since the previous read. The first read reports none.
// Invalid content leaves the previous settings in place.
func (s *Store) Reload() ([]string, error) {
	next, sections, err := s.read()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []string
	if s.loaded {
		changed = diffSections(s.sections, sections)
	}
	s.current = next
	s.sections = sections
	s.loaded = true
	return changed, nil
}

func (s *Store) read() (Settings, map[string]interface{}, error) {
	v := viper.New()
	v.SetConfigFile(s.path)
	v.SetConfigType("yaml")

	for key, def := range Default().section() {
		v.SetDefault(Section+"."+key, def)
	}
	for _, key := range Keys {
		if err := v.BindEnv(Section+"."+key, EnvPrefix+"_"+strings.ToUpper(key)); err != nil {
			return Settings{}, nil, fmt.Errorf("bind env for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return Settings{}, nil, fmt.Errorf("failed to read settings file %s: %w", s.path, err)
	}

	var file struct {
		Antimony Settings `mapstructure:"antimony"`
	}
	if err := v.Unmarshal(&file); err != nil {
		return Settings{}, nil, fmt.Errorf("failed to decode settings: %w", err)
	}
	if err := file.Antimony.Validate(); err != nil {
		return Settings{}, nil, err
	}
	return file.Antimony, v.AllSettings(), nil
}

// Get returns the last successfully loaded settings.
func (s *Store) Get() Settings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// PythonInterpreter returns the configured interpreter.
func (s *Store) PythonInterpreter() string {
	return s.Get().PythonInterpreter
}

// Set writes one key of the "antimony" section and reloads. An invalid
// value is rolled back and reported.
func (s *Store) Set(key, value string) error {
	if !isKey(key) {
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}

	old, err := os.ReadFile(s.path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read settings file: %w", err)
	}

	doc := map[string]interface{}{}
	if len(old) > 0 {
		if err := yaml.Unmarshal(old, &doc); err != nil {
			return fmt.Errorf("failed to parse settings file: %w", err)
		}
	}
	section, _ := doc[Section].(map[string]interface{})
	if section == nil {
		section = map[string]interface{}{}
	}
	section[key] = value
	doc[Section] = section

	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	if err := writeFile(s.path, data); err != nil {
		return err
	}

	if _, err := s.Reload(); err != nil {
		if len(old) > 0 {
			_ = writeFile(s.path, old)
		}
		return err
	}
	s.logger.Info("Setting updated", "key", Section+"."+key, "value", value)
	return nil
}

// Raw returns the file content as written.
func (s *Store) Raw() ([]byte, error) {
	return os.ReadFile(s.path)
}

func isKey(key string) bool {
	for _, k := range Keys {
		if k == key {
			return true
		}
	}
	return false
}

func createDefault(path string) error {
	doc := map[string]interface{}{Section: Default().section()}
	data, err := yaml.Marshal(doc)
	if err != nil {
		return err
	}
	return writeFile(path, data)
}

// writeFile replaces path atomically.
func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create the settings directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return nil
}

// diffSections returns the sorted top-level keys whose values differ.
func diffSections(prev, next map[string]interface{}) []string {
	seen := map[string]bool{}
	var changed []string
	for k, v := range next {
		seen[k] = true
		if !reflect.DeepEqual(prev[k], v) {
			changed = append(changed, k)
		}
	}
	for k := range prev {
		if !seen[k] {
			changed = append(changed, k)
		}
	}
	sort.Strings(changed)
	return changed
}
