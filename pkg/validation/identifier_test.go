// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package validation

import (
	"testing"
)

func TestValidatePrefix(t *testing.T) {
	tests := []struct {
		name    string
		prefix  string
		wantErr bool
	}{
		{"simple", "chebi", false},
		{"single char", "a", false},
		{"with digit", "pdb2", false},
		{"dotted", "kegg.compound", false},
		{"underscore", "ec_code", false},
		{"max length", "abcdefghijabcdefghijabcdefghijab", false},

		{"empty", "", true},
		{"uppercase", "CHEBI", true},
		{"starts with digit", "1abc", true},
		{"slash", "chebi/1", true},
		{"quote", `chebi"`, true},
		{"space", "che bi", true},
		{"too long", "abcdefghijabcdefghijabcdefghijabc", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePrefix(tt.prefix)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePrefix(%q) error = %v, wantErr %v", tt.prefix, err, tt.wantErr)
			}
		})
	}
}

func TestValidateAccession(t *testing.T) {
	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"numeric", "15422", false},
		{"uniprot", "P04637", false},
		{"go term", "GO:0006096", false},
		{"kegg", "C00031", false},
		{"versioned", "NM_000546.6", false},

		{"empty", "", true},
		{"quote injection", `15422" identity "x`, true},
		{"newline", "15422\nend", true},
		{"path traversal", "../etc", true},
		{"slash", "a/b", true},
		{"starts with hyphen", "-1", true},
		{"unicode", "15422™", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAccession(tt.id)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAccession(%q) error = %v, wantErr %v", tt.id, err, tt.wantErr)
			}
		})
	}
}

func TestValidateIdentifier(t *testing.T) {
	if err := ValidateIdentifier("chebi", "17234"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateIdentifier("CHEBI", "17234"); err == nil {
		t.Error("expected prefix error")
	}
	if err := ValidateIdentifier("chebi", ""); err == nil {
		t.Error("expected accession error")
	}
}
