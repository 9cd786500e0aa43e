// ABOUTME: Generated merge statements shared by per-record and bulk upserts
// ABOUTME: Builds INSERT ... ON CONFLICT DO UPDATE, staging DDL, and stage-to-target merges
package db

import (
	"strings"
)

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func (t table) updateAssignments() string {
	keys := make(map[string]bool, len(t.key))
	for _, k := range t.key {
		keys[k] = true
	}
	var sets []string
	for _, c := range t.columns {
		if keys[c.name] {
			continue
		}
		sets = append(sets, c.name+" = excluded."+c.name)
	}
	return strings.Join(sets, ",\n\t")
}

func (t table) conflictClause() string {
	sets := t.updateAssignments()
	if sets == "" {
		return "ON CONFLICT (" + strings.Join(t.key, ", ") + ") DO NOTHING"
	}
	return "ON CONFLICT (" + strings.Join(t.key, ", ") + ") DO UPDATE SET\n\t" + sets
}

// upsertSQL merges one row by key, overwriting every non-key column.
func (t table) upsertSQL() string {
	return "INSERT INTO " + t.name + " (" + strings.Join(t.columnNames(), ", ") + ")\n" +
		"VALUES (" + placeholders(len(t.columns)) + ")\n" +
		t.conflictClause()
}

func (t table) stageName() string {
	return t.name + "_stage"
}

// createStageSQL declares an unconstrained temp table with the target's columns.
func (t table) createStageSQL(d Dialect) string {
	return "CREATE TEMP TABLE " + t.stageName() + " (\n\t" + t.columnDefs(d, false) + "\n)"
}

func (t table) dropStageSQL() string {
	return "DROP TABLE IF EXISTS " + t.stageName()
}

func (t table) insertStageSQL() string {
	return "INSERT INTO " + t.stageName() + " (" + strings.Join(t.columnNames(), ", ") + ")\n" +
		"VALUES (" + placeholders(len(t.columns)) + ")"
}

// mergeStageSQL merges every staged row into the target. The WHERE clause
// keeps SQLite from reading ON CONFLICT as a join constraint.
func (t table) mergeStageSQL() string {
	cols := strings.Join(t.columnNames(), ", ")
	return "INSERT INTO " + t.name + " (" + cols + ")\n" +
		"SELECT " + cols + " FROM " + t.stageName() + " WHERE 1 = 1\n" +
		t.conflictClause()
}
