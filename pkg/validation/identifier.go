// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks values that end up inside model text.
//
// Annotation results come from the analysis service and are written into
// the user's model as identifiers.org URLs inside a quoted string. A value
// carrying a quote, whitespace or a path separator would corrupt the model,
// so every identifier is validated before it is offered.
package validation

import (
	"fmt"
	"regexp"
)

// prefixPattern matches identifiers.org namespace prefixes (chebi, uniprot,
// go, ncbigene, kegg.compound).
var prefixPattern = regexp.MustCompile(`^[a-z][a-z0-9._]{0,31}$`)

// accessionPattern matches database accessions (15422, P04637, GO:0006096,
// C00031).
var accessionPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:\-]{0,63}$`)

// ValidatePrefix validates an identifiers.org namespace prefix.
//
// Valid prefixes:
//   - 1-32 characters
//   - Start with a lowercase letter
//   - Lowercase letters, digits, dots and underscores
func ValidatePrefix(prefix string) error {
	if prefix == "" {
		return fmt.Errorf("prefix cannot be empty")
	}
	if !prefixPattern.MatchString(prefix) {
		return fmt.Errorf("invalid prefix format: %q (must be 1-32 lowercase alphanumeric chars, dots, or underscores)", prefix)
	}
	return nil
}

// ValidateAccession validates a database accession.
//
// Valid accessions:
//   - 1-64 characters
//   - Start with a letter or digit
//   - Letters, digits, dots, colons, underscores and hyphens
func ValidateAccession(id string) error {
	if id == "" {
		return fmt.Errorf("accession cannot be empty")
	}
	if !accessionPattern.MatchString(id) {
		return fmt.Errorf("invalid accession format: %q (must be 1-64 alphanumeric chars, dots, colons, underscores, or hyphens)", id)
	}
	return nil
}

// ValidateIdentifier validates a prefix and accession pair.
//
// Example:
//
//	if err := validation.ValidateIdentifier(e.Prefix, e.ID); err != nil {
//	    return fmt.Errorf("skip match: %w", err)
//	}
//	// Safe to write into the model
func ValidateIdentifier(prefix, id string) error {
	if err := ValidatePrefix(prefix); err != nil {
		return err
	}
	return ValidateAccession(id)
}
