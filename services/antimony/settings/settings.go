// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package settings owns the user-edited settings file.
//
// The file is YAML with one top-level mapping per section. This package
// owns the "antimony" section; other sections are preserved untouched and
// only matter for change detection.
//
//	antimony:
//	  pythonInterpreter: python3
//	  debounceDelay: 3s
package settings

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Section is the settings section owned by the bridge.
const Section = "antimony"

// Setting keys within Section.
const (
	KeyPythonInterpreter = "pythonInterpreter"
	KeyServerEntry       = "serverEntry"
	KeyDebounceDelay     = "debounceDelay"
	KeyReadyTimeout      = "readyTimeout"
	KeyRequestTimeout    = "requestTimeout"
	KeyLogLevel          = "logLevel"
)

// Keys lists every key in Section in file order.
var Keys = []string{
	KeyPythonInterpreter,
	KeyServerEntry,
	KeyDebounceDelay,
	KeyReadyTimeout,
	KeyRequestTimeout,
	KeyLogLevel,
}

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid settings")

// ErrUnknownKey is returned by Store.Set for keys outside Keys.
var ErrUnknownKey = errors.New("unknown setting")

// Settings is the "antimony" section.
type Settings struct {
	// PythonInterpreter runs the analysis service. It is not validated
	// here: an empty or unusable value is reported by the interpreter
	// resolver when the service restarts.
	PythonInterpreter string `mapstructure:"pythonInterpreter"`

	// ServerEntry is the service's main script. Empty means
	// <extension root>/src/server/main.py.
	ServerEntry string `mapstructure:"serverEntry"`

	// DebounceDelay is the quiet period before a restart.
	DebounceDelay time.Duration `mapstructure:"debounceDelay" validate:"gte=0"`

	// ReadyTimeout bounds the handshake. Zero waits forever.
	ReadyTimeout time.Duration `mapstructure:"readyTimeout" validate:"gte=0"`

	// RequestTimeout bounds each workflow request. Zero waits forever.
	RequestTimeout time.Duration `mapstructure:"requestTimeout" validate:"gte=0"`

	// LogLevel is debug, info, warn or error.
	LogLevel string `mapstructure:"logLevel" validate:"oneof=debug info warn error"`
}

// Default returns the built-in settings.
func Default() Settings {
	return Settings{
		PythonInterpreter: "python3",
		DebounceDelay:     3 * time.Second,
		ReadyTimeout:      30 * time.Second,
		RequestTimeout:    60 * time.Second,
		LogLevel:          "info",
	}
}

var validate = validator.New()

// Validate checks field constraints.
func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fieldKey(fe.Field()), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// fieldKey maps a struct field name to its settings key.
func fieldKey(field string) string {
	if field == "" {
		return field
	}
	return strings.ToLower(field[:1]) + field[1:]
}

// section renders s the way it is written to disk.
func (s Settings) section() map[string]interface{} {
	return map[string]interface{}{
		KeyPythonInterpreter: s.PythonInterpreter,
		KeyServerEntry:       s.ServerEntry,
		KeyDebounceDelay:     s.DebounceDelay.String(),
		KeyReadyTimeout:      s.ReadyTimeout.String(),
		KeyRequestTimeout:    s.RequestTimeout.String(),
		KeyLogLevel:          s.LogLevel,
	}
}

// Get returns the string form of one key.
func (s Settings) Get(key string) (string, error) {
	v, ok := s.section()[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return fmt.Sprint(v), nil
}

// ChangeEvent reports which sections changed in one reload.
type ChangeEvent struct {
	Sections []string
	Time     time.Time
}

// AffectsConfiguration reports whether section changed.
func (e ChangeEvent) AffectsConfiguration(section string) bool {
	for _, s := range e.Sections {
		if strings.EqualFold(s, section) {
			return true
		}
	}
	return false
}
