// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package annotation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mastevb/vscode-antimony/services/antimony/host"
	"github.com/mastevb/vscode-antimony/services/antimony/host/hosttest"
	"github.com/mastevb/vscode-antimony/services/antimony/lsp"
)

type call struct {
	command string
	args    []interface{}
}

type fakeQuerier struct {
	calls  []call
	result interface{}
	err    error
}

func (q *fakeQuerier) ExecuteCommand(_ context.Context, command string, args ...interface{}) (json.RawMessage, error) {
	q.calls = append(q.calls, call{command: command, args: args})
	if q.err != nil {
		return nil, q.err
	}
	return json.Marshal(q.result)
}

func glucose() QueryResult {
	return QueryResult{
		Query: "glucose",
		Items: []Item{
			{Label: "D-glucose", Description: "CHEBI:4167", Entity: Entity{ID: "4167", Prefix: "chebi"}},
			{Label: "glucose", Description: "CHEBI:17234", Entity: Entity{ID: "17234", Prefix: "chebi"}},
		},
	}
}

func TestPick_ThreeSteps(t *testing.T) {
	h := hosttest.New()
	h.QuickPicks = []int{0, 1}
	h.Inputs = []hosttest.Input{{Value: "glucose"}}
	q := &fakeQuerier{result: glucose()}

	item, err := NewPicker(h, q, nil).Pick(context.Background(), "gluc")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "17234", item.Entity.ID)

	require.Len(t, q.calls, 1)
	assert.Equal(t, QueryCommand, q.calls[0].command)
	assert.Equal(t, []interface{}{"chebi", "glucose"}, q.calls[0].args)

	require.Len(t, h.InputOpts, 1)
	assert.Equal(t, "gluc", h.InputOpts[0].Value, "query input is seeded")
	assert.Equal(t, 2, h.InputOpts[0].Step)

	require.Len(t, h.QuickPickSets, 2)
	assert.Len(t, h.QuickPickSets[0], len(Databases))
	assert.Equal(t, "D-glucose", h.QuickPickSets[1][0].Label)
	assert.Equal(t, 1, h.QuickPickOpts[0].Step)
	assert.Equal(t, 3, h.QuickPickOpts[1].Step)
	assert.Equal(t, 3, h.QuickPickOpts[1].TotalSteps)
}

func TestPick_CancelAtEachStep(t *testing.T) {
	tests := []struct {
		name       string
		picks      []int
		inputs     []hosttest.Input
		wantQuerys int
	}{
		{name: "database", picks: []int{-1}},
		{name: "query", picks: []int{0}, inputs: []hosttest.Input{{Cancelled: true}}},
		{name: "entity", picks: []int{0, -1}, inputs: []hosttest.Input{{Value: "glucose"}}, wantQuerys: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := hosttest.New()
			h.QuickPicks = tt.picks
			h.Inputs = tt.inputs
			q := &fakeQuerier{result: glucose()}

			item, err := NewPicker(h, q, nil).Pick(context.Background(), "")
			assert.NoError(t, err)
			assert.Nil(t, item)
			assert.Len(t, q.calls, tt.wantQuerys)
			assert.Equal(t, 0, h.ErrorCount())
		})
	}
}

func TestPick_QueryErrors(t *testing.T) {
	transport := errors.New("connection closed")
	tests := []struct {
		name   string
		q      *fakeQuerier
		target error
	}{
		{name: "service error", q: &fakeQuerier{result: QueryResult{Error: "database offline"}}, target: ErrQueryFailed},
		{name: "no matches", q: &fakeQuerier{result: QueryResult{}}, target: ErrNoMatches},
		{name: "transport", q: &fakeQuerier{err: transport}, target: transport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := hosttest.New()
			h.QuickPicks = []int{1, 0}
			h.Inputs = []hosttest.Input{{Value: "p53"}}

			item, err := NewPicker(h, tt.q, nil).Pick(context.Background(), "")
			assert.ErrorIs(t, err, tt.target)
			assert.Nil(t, item)
			assert.Len(t, h.QuickPickSets, 1, "no entity step after a failed query")
		})
	}
}

func TestPick_DropsMalformedIdentifiers(t *testing.T) {
	h := hosttest.New()
	h.QuickPicks = []int{0, 0}
	h.Inputs = []hosttest.Input{{Value: "glucose"}}
	res := glucose()
	res.Items = append([]Item{{Label: "broken", Entity: Entity{ID: `1" identity "x`, Prefix: "chebi"}}}, res.Items...)
	q := &fakeQuerier{result: res}

	item, err := NewPicker(h, q, nil).Pick(context.Background(), "")
	require.NoError(t, err)
	require.NotNil(t, item)
	assert.Equal(t, "D-glucose", item.Label)
	require.Len(t, h.QuickPickSets, 2)
	assert.Len(t, h.QuickPickSets[1], 2)
}

func TestPick_OnlyMalformedIdentifiers(t *testing.T) {
	h := hosttest.New()
	h.QuickPicks = []int{0}
	h.Inputs = []hosttest.Input{{Value: "glucose"}}
	q := &fakeQuerier{result: QueryResult{Items: []Item{{Label: "broken", Entity: Entity{ID: "a/b", Prefix: "CHEBI"}}}}}

	_, err := NewPicker(h, q, nil).Pick(context.Background(), "")
	assert.ErrorIs(t, err, ErrNoMatches)
}

func TestPick_ServiceErrorIsVerbatim(t *testing.T) {
	h := hosttest.New()
	h.QuickPicks = []int{0}
	h.Inputs = []hosttest.Input{{Value: "x"}}
	q := &fakeQuerier{result: QueryResult{Error: "database offline"}}

	_, err := NewPicker(h, q, nil).Pick(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database offline")
}

func TestSnippet(t *testing.T) {
	tests := []struct {
		name   string
		entity string
		want   string
	}{
		{
			name:   "plain",
			entity: "glc",
			want:   "\n\n${1:glc} identity \"http://identifiers.org/chebi/17234\"",
		},
		{
			name:   "default name",
			entity: DefaultEntityName,
			want:   "\n\n${1:entityName} identity \"http://identifiers.org/chebi/17234\"",
		},
		{
			name:   "escaped",
			entity: "a$b}",
			want:   "\n\n${1:a\\$b\\}} identity \"http://identifiers.org/chebi/17234\"",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Snippet(tt.entity, Entity{ID: "17234", Prefix: "chebi"})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExpandSnippet(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "\n\n${1:glc} identity \"http://identifiers.org/chebi/17234\"", want: "\n\nglc identity \"http://identifiers.org/chebi/17234\""},
		{in: "${1:a\\$b\\}} x", want: "a$b} x"},
		{in: "a $1 b $0", want: "a  b "},
		{in: "no placeholders {}", want: "no placeholders {}"},
		{in: "${2} end", want: " end"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ExpandSnippet(tt.in), tt.in)
	}
}

func TestInsertionPoint(t *testing.T) {
	doc := host.Document{Text: "model m\n  S1 -> S2; k1*S1\nend"}
	assert.Equal(t, lsp.Position{Line: 2, Character: 3}, InsertionPoint(doc))

	doc = host.Document{Text: "a\n"}
	assert.Equal(t, lsp.Position{Line: 1, Character: 0}, InsertionPoint(doc))
}
