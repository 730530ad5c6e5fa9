// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mastevb/vscode-antimony/pkg/ux"
	"github.com/mastevb/vscode-antimony/services/antimony/settings"
)

func runSettingsShow(cmd *cobra.Command, flags *globalFlags) (err error) {
	rt, err := newRuntime(cmd, flags)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, rt.close()) }()

	current := rt.store.Get()
	values := make(map[string]string, len(settings.Keys))
	for _, k := range settings.Keys {
		v, err := current.Get(k)
		if err != nil {
			return err
		}
		values[k] = v
	}

	if rt.printer.Mode() == ux.ModeJSON {
		enc := json.NewEncoder(rt.printer.Writer())
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]interface{}{settings.Section: values})
	}
	rt.printer.Title(rt.store.Path())
	rt.printer.KeyValues(settings.Keys, values)
	return nil
}

func runSettingsSet(cmd *cobra.Command, flags *globalFlags, key, value string) (err error) {
	rt, err := newRuntime(cmd, flags)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, rt.close()) }()

	key = strings.TrimPrefix(key, settings.Section+".")
	if err := rt.store.Set(key, value); err != nil {
		return err
	}
	rt.printer.Success(fmt.Sprintf("%s.%s = %s", settings.Section, key, value))
	return nil
}

func runSettingsPath(cmd *cobra.Command, flags *globalFlags) (err error) {
	rt, err := newRuntime(cmd, flags)
	if err != nil {
		return err
	}
	defer func() { err = errors.Join(err, rt.close()) }()

	fmt.Fprintln(rt.printer.Writer(), rt.store.Path())
	return nil
}
