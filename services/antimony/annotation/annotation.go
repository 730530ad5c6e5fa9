// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package annotation looks up database identifiers for model entities and
// formats the identity annotation inserted into the document.
package annotation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mastevb/vscode-antimony/pkg/logging"
	"github.com/mastevb/vscode-antimony/pkg/validation"
	"github.com/mastevb/vscode-antimony/services/antimony/host"
	"github.com/mastevb/vscode-antimony/services/antimony/lsp"
)

// QueryCommand searches a database on the analysis service.
const QueryCommand = "antimony.querySpecies"

// DefaultEntityName is the placeholder used when nothing is selected.
const DefaultEntityName = "entityName"

const totalSteps = 3

var (
	// ErrQueryFailed indicates the service reported an error for a query.
	ErrQueryFailed = errors.New("annotation query failed")

	// ErrNoMatches indicates a query returned no entities.
	ErrNoMatches = errors.New("no matching entities")
)

// Database is one searchable annotation source.
type Database struct {
	Label string
	ID    string
}

// Databases lists the sources offered in the first step.
var Databases = []Database{
	{Label: "ChEBI", ID: "chebi"},
	{Label: "UniProt", ID: "uniprot"},
	{Label: "Rhea", ID: "rhea"},
	{Label: "Gene Ontology", ID: "gontology"},
	{Label: "Ontology of Physics for Biology", ID: "opb"},
}

// Entity identifies a database record.
type Entity struct {
	ID     string `json:"id"`
	Prefix string `json:"prefix"`
}

// IdentifiersURL returns the identifiers.org URL for the entity.
func (e Entity) IdentifiersURL() string {
	return "http://identifiers.org/" + e.Prefix + "/" + e.ID
}

// Item is one query match.
type Item struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
	Detail      string `json:"detail,omitempty"`
	Entity      Entity `json:"entity"`
}

// QueryResult is the service's answer to QueryCommand.
type QueryResult struct {
	Query string `json:"query"`
	Items []Item `json:"items"`
	Error string `json:"error,omitempty"`
}

// Querier sends commands to the analysis service.
type Querier interface {
	ExecuteCommand(ctx context.Context, command string, args ...interface{}) (json.RawMessage, error)
}

// Picker runs the database, query and entity steps.
type Picker struct {
	dialogs host.Dialogs
	querier Querier
	logger  *logging.Logger
}

// NewPicker creates a picker. logger may be nil.
func NewPicker(dialogs host.Dialogs, querier Querier, logger *logging.Logger) *Picker {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Picker{dialogs: dialogs, querier: querier, logger: logger.With("component", "annotation")}
}

// Pick asks for a database and a query, sends one QueryCommand and asks
// the user to choose a match.
//
// Outputs:
//
//	*Item - The chosen match, nil if the user cancelled at any step.
//	error - Dialog failure, ErrQueryFailed or ErrNoMatches.
func (p *Picker) Pick(ctx context.Context, initialQuery string) (*Item, error) {
	if ctx == nil {
		return nil, fmt.Errorf("ctx must not be nil")
	}

	db, err := p.pickDatabase(ctx)
	if err != nil || db == nil {
		return nil, err
	}

	query, ok, err := p.dialogs.ShowInputBox(ctx, host.InputBoxOptions{
		Title:       "Create annotation",
		Prompt:      "Search " + db.Label,
		Value:       initialQuery,
		Placeholder: "Enter a query",
		Step:        2,
		TotalSteps:  totalSteps,
	})
	if err != nil || !ok {
		return nil, err
	}

	items, err := p.query(ctx, *db, query)
	if err != nil {
		return nil, err
	}

	choices := make([]host.QuickPickItem, len(items))
	for i, it := range items {
		choices[i] = host.QuickPickItem{
			Label:       it.Label,
			Description: it.Description,
			Detail:      it.Detail,
			Value:       fmt.Sprint(i),
		}
	}
	chosen, err := p.dialogs.ShowQuickPick(ctx, choices, host.QuickPickOptions{
		Title:       "Create annotation",
		Placeholder: "Pick an entity",
		Step:        3,
		TotalSteps:  totalSteps,
	})
	if err != nil || chosen == nil {
		return nil, err
	}
	for i := range choices {
		if choices[i].Value == chosen.Value {
			return &items[i], nil
		}
	}
	return nil, nil
}

func (p *Picker) pickDatabase(ctx context.Context) (*Database, error) {
	items := make([]host.QuickPickItem, len(Databases))
	for i, db := range Databases {
		items[i] = host.QuickPickItem{Label: db.Label, Value: db.ID}
	}
	chosen, err := p.dialogs.ShowQuickPick(ctx, items, host.QuickPickOptions{
		Title:       "Create annotation",
		Placeholder: "Pick a database to search",
		Step:        1,
		TotalSteps:  totalSteps,
	})
	if err != nil || chosen == nil {
		return nil, err
	}
	for i := range Databases {
		if Databases[i].ID == chosen.Value {
			return &Databases[i], nil
		}
	}
	return nil, nil
}

func (p *Picker) query(ctx context.Context, db Database, query string) ([]Item, error) {
	p.logger.Debug("Querying annotation database", "database", db.ID, "query", query)
	raw, err := p.querier.ExecuteCommand(ctx, QueryCommand, db.ID, query)
	if err != nil {
		return nil, err
	}
	var res QueryResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode %s result: %w", QueryCommand, err)
	}
	if res.Error != "" {
		return nil, fmt.Errorf("%w: %s", ErrQueryFailed, res.Error)
	}
	items := res.Items[:0]
	for _, it := range res.Items {
		if err := validation.ValidateIdentifier(it.Entity.Prefix, it.Entity.ID); err != nil {
			p.logger.Warn("Dropping annotation match", "label", it.Label, "error", err)
			continue
		}
		items = append(items, it)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w for %q in %s", ErrNoMatches, query, db.Label)
	}
	return items, nil
}

// =============================================================================
// SNIPPETS
// =============================================================================

// Snippet returns the annotation snippet for entityName. The name is the
// first tab stop.
func Snippet(entityName string, e Entity) string {
	return fmt.Sprintf("\n\n${1:%s} identity \"%s\"", escapeSnippet(entityName), e.IdentifiersURL())
}

// InsertionPoint is the end of the document's last line.
func InsertionPoint(doc host.Document) lsp.Position {
	return doc.End()
}

func escapeSnippet(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `$`, `\$`, `}`, `\}`)
	return r.Replace(s)
}

// ExpandSnippet renders snippet text for hosts without snippet support.
// Placeholders become their default text; bare tab stops disappear.
func ExpandSnippet(snippet string) string {
	var b strings.Builder
	depth := 0
	runes := []rune(snippet)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case c == '\\' && i+1 < len(runes):
			i++
			b.WriteRune(runes[i])
		case c == '$' && i+1 < len(runes) && runes[i+1] == '{':
			j := i + 2
			for j < len(runes) && runes[j] >= '0' && runes[j] <= '9' {
				j++
			}
			if j < len(runes) && runes[j] == ':' {
				j++
			}
			depth++
			i = j - 1
		case c == '$' && i+1 < len(runes) && runes[i+1] >= '0' && runes[i+1] <= '9':
			for i+1 < len(runes) && runes[i+1] >= '0' && runes[i+1] <= '9' {
				i++
			}
		case c == '}' && depth > 0:
			depth--
		default:
			b.WriteRune(c)
		}
	}
	return b.String()
}
