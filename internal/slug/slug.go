// Package slug validates tenant slugs and derives schema names from them.
//
// A tenant slug is the only piece of user-influenced input that ever reaches a
// dynamically built SQL identifier, so both the slug grammar and the derived
// schema name are checked against closed character classes.
package slug

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	// slugPattern: 3-64 chars, starts with a letter, ends alphanumeric,
	// lowercase letters, digits and hyphens in between.
	slugPattern = regexp.MustCompile(`^[a-z][a-z0-9-]{1,62}[a-z0-9]$`)

	// schemaPattern is the closed character class re-checked immediately
	// before a schema name is interpolated into a SQL identifier.
	schemaPattern = regexp.MustCompile(`^[a-z0-9_]+$`)
)

// SchemaPrefix is prepended to every derived tenant schema name.
const SchemaPrefix = "tenant_"

// InvalidSlugError reports a slug that does not match the tenant slug grammar.
type InvalidSlugError struct {
	Slug string
}

func (e *InvalidSlugError) Error() string {
	return fmt.Sprintf("invalid tenant slug %q: must match %s", e.Slug, slugPattern.String())
}

// InvalidSchemaNameError reports a schema name that failed the pre-use check.
type InvalidSchemaNameError struct {
	Name string
}

func (e *InvalidSchemaNameError) Error() string {
	return fmt.Sprintf("invalid schema name %q", e.Name)
}

// Validate checks a tenant slug against the slug grammar.
func Validate(s string) error {
	if !slugPattern.MatchString(s) {
		return &InvalidSlugError{Slug: s}
	}
	return nil
}

// SchemaName derives the tenant schema name from a slug. The derivation is
// pure and deterministic: hyphens become underscores under a fixed prefix.
// Callers must still run ValidateSchemaName before using the result in SQL.
func SchemaName(s string) string {
	return SchemaPrefix + strings.ReplaceAll(s, "-", "_")
}

// ValidateSchemaName checks a schema name against the closed identifier
// character class. Called immediately before any dynamic SQL identifier use,
// even when the name came from SchemaName on an already validated slug.
func ValidateSchemaName(name string) error {
	if name == "" || !schemaPattern.MatchString(name) {
		return &InvalidSchemaNameError{Name: name}
	}
	return nil
}
