// Package filter holds the externally configured inclusion rules that decide
// which databases, tables and columns participate in change capture.
package filter

import (
	"fmt"
	"strings"

	"github.com/gobwas/glob"
)

// ValueMapper rewrites a column value before it is placed into a change
// record. Mappers are attached per column pattern (e.g. masking).
type ValueMapper func(value interface{}) interface{}

// Set bundles the database, table and column predicates plus any column
// value mappers. Empty pattern lists match everything.
type Set struct {
	databaseGlobs []glob.Glob
	tableGlobs    []glob.Glob
	columnGlobs   []glob.Glob

	mapperGlobs []glob.Glob
	mappers     []ValueMapper
}

// NewSet compiles the given glob patterns into a filter set.
//
// Table patterns match against "database.table". Column patterns match
// against "database.table.column" and act as a blocklist: a matching column
// is excluded from key and value shapes.
func NewSet(databasePatterns, tablePatterns, columnPatterns []string) (*Set, error) {
	s := &Set{}

	var err error
	if s.databaseGlobs, err = compileAll(databasePatterns, "database"); err != nil {
		return nil, err
	}
	if s.tableGlobs, err = compileAll(tablePatterns, "table"); err != nil {
		return nil, err
	}
	if s.columnGlobs, err = compileAll(columnPatterns, "column"); err != nil {
		return nil, err
	}

	return s, nil
}

func compileAll(patterns []string, kind string) ([]glob.Glob, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, pattern := range patterns {
		g, err := glob.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid %s pattern %q: %w", kind, pattern, err)
		}
		globs = append(globs, g)
	}
	return globs, nil
}

// AddValueMapper registers a mapper for every column whose
// "database.table.column" name matches the given pattern.
func (s *Set) AddValueMapper(columnPattern string, mapper ValueMapper) error {
	g, err := glob.Compile(columnPattern)
	if err != nil {
		return fmt.Errorf("invalid mapper pattern %q: %w", columnPattern, err)
	}
	s.mapperGlobs = append(s.mapperGlobs, g)
	s.mappers = append(s.mappers, mapper)
	return nil
}

// Database returns true if events for the named database should be captured.
func (s *Set) Database(database string) bool {
	return matchAny(s.databaseGlobs, database)
}

// Table returns true if the table passes both the database and the table
// predicate. The table predicate matches against "database.table".
func (s *Set) Table(database, table string) bool {
	if !s.Database(database) {
		return false
	}
	return matchAny(s.tableGlobs, database+"."+table)
}

// Column returns true if the column participates in key/value shapes.
// Column patterns are exclusions, so a match means "filtered out".
func (s *Set) Column(database, table, column string) bool {
	if len(s.columnGlobs) == 0 {
		return true
	}
	full := database + "." + table + "." + column
	for _, g := range s.columnGlobs {
		if g.Match(full) {
			return false
		}
	}
	return true
}

// Mapper returns the value mapper for the column, or nil when none applies.
// The first registered matching pattern wins.
func (s *Set) Mapper(database, table, column string) ValueMapper {
	full := database + "." + table + "." + column
	for i, g := range s.mapperGlobs {
		if g.Match(full) {
			return s.mappers[i]
		}
	}
	return nil
}

func matchAny(globs []glob.Glob, name string) bool {
	if len(globs) == 0 {
		return true
	}
	for _, g := range globs {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// String describes the set for operator logging.
func (s *Set) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "filter.Set{databases:%d tables:%d columns:%d mappers:%d}",
		len(s.databaseGlobs), len(s.tableGlobs), len(s.columnGlobs), len(s.mappers))
	return b.String()
}
