// ABOUTME: Warehouse table definitions and idempotent schema creation
// ABOUTME: One column list per table drives DDL, upserts, and bulk staging for both dialects
package db

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
)

// Logical column types, mapped per dialect by columnType.
const (
	typeText      = "TEXT"
	typeNumeric   = "NUMERIC"
	typeBoolean   = "BOOLEAN"
	typeTimestamp = "TIMESTAMP"
	typeDate      = "DATE"
)

type column struct {
	name    string
	typ     string
	notNull bool
}

type table struct {
	name    string
	key     []string
	columns []column
	indexes []string
}

// Table names.
const (
	TableDeals         = "hubspot_deals"
	TableCompanies     = "hubspot_companies"
	TableOwners        = "hubspot_deal_owners"
	TableCollaborators = "hubspot_deal_collaborators"
	TableLineItems     = "hubspot_deal_line_items"
	TableSyncInfo      = "hubspot_entity_sync_info"
)

var dealsTable = table{
	name: TableDeals,
	key:  []string{"deal_id"},
	columns: []column{
		{name: "deal_id", typ: typeText, notNull: true},
		{name: "deal_name", typ: typeText},
		{name: "deal_owner", typ: typeText},
		{name: "deal_owner_id", typ: typeText},
		{name: "deal_owner_email", typ: typeText},
		{name: "deal_owner_name", typ: typeText},
		{name: "delivery_lead_id", typ: typeText},
		{name: "delivery_lead_email", typ: typeText},
		{name: "delivery_lead_name", typ: typeText},
		{name: "solution_lead_id", typ: typeText},
		{name: "solution_lead_email", typ: typeText},
		{name: "solution_lead_name", typ: typeText},
		{name: "deal_stage_id", typ: typeText},
		{name: "deal_stage_name", typ: typeText},
		{name: "pipeline_id", typ: typeText},
		{name: "company_id", typ: typeText},
		{name: "company_name", typ: typeText},
		{name: "company_domain", typ: typeText},
		{name: "deal_to_company_associations", typ: typeText},
		{name: "deal_collaborators", typ: typeText},
		{name: "project_start_date", typ: typeDate},
		{name: "project_close_date", typ: typeTimestamp},
		{name: "duration_in_months", typ: typeNumeric},
		{name: "deal_amount_in_company_currency", typ: typeNumeric},
		{name: "engagement_type", typ: typeText},
		{name: "deal_type", typ: typeText},
		{name: "ns_project_id", typ: typeText},
		{name: "work_ahead", typ: typeText},
		{name: "deal_created_on", typ: typeTimestamp},
		{name: "deal_updated_on", typ: typeTimestamp},
		{name: "special_fields_updated_on", typ: typeTimestamp},
		{name: "last_refreshed_on", typ: typeTimestamp},
		{name: "is_archived", typ: typeBoolean},
	},
	indexes: []string{"company_id", "deal_owner_id"},
}

var companiesTable = table{
	name: TableCompanies,
	key:  []string{"company_id"},
	columns: []column{
		{name: "company_id", typ: typeText, notNull: true},
		{name: "name", typ: typeText},
		{name: "domain", typ: typeText},
	},
}

var ownersTable = table{
	name: TableOwners,
	key:  []string{"owner_id"},
	columns: []column{
		{name: "owner_id", typ: typeText, notNull: true},
		{name: "name", typ: typeText},
		{name: "email", typ: typeText},
		{name: "is_archived", typ: typeBoolean},
	},
}

var collaboratorsTable = table{
	name: TableCollaborators,
	key:  []string{"deal_id", "owner_id"},
	columns: []column{
		{name: "deal_id", typ: typeText, notNull: true},
		{name: "owner_id", typ: typeText, notNull: true},
		{name: "last_updated", typ: typeTimestamp},
	},
}

var lineItemsTable = table{
	name: TableLineItems,
	key:  []string{"line_item_id"},
	columns: []column{
		{name: "line_item_id", typ: typeText, notNull: true},
		{name: "deal_id", typ: typeText, notNull: true},
		{name: "name", typ: typeText},
		{name: "price", typ: typeNumeric},
		{name: "quantity", typ: typeNumeric},
		{name: "amount", typ: typeNumeric},
		{name: "created_on", typ: typeTimestamp},
		{name: "updated_on", typ: typeTimestamp},
	},
	indexes: []string{"deal_id"},
}

var syncInfoTable = table{
	name: TableSyncInfo,
	key:  []string{"entity_name"},
	columns: []column{
		{name: "entity_name", typ: typeText, notNull: true},
		{name: "sync_status", typ: typeText, notNull: true},
		{name: "last_updated_on", typ: typeTimestamp},
		{name: "updated_by", typ: typeText},
		{name: "update_event", typ: typeText},
		{name: "last_sync_status", typ: typeText},
		{name: "last_failed_on", typ: typeTimestamp},
		{name: "run_id", typ: typeText},
		{name: "lease_expires_at", typ: typeTimestamp},
	},
}

var allTables = []table{dealsTable, companiesTable, ownersTable, collaboratorsTable, lineItemsTable, syncInfoTable}

func columnType(d Dialect, typ string) string {
	if d == DialectPostgres {
		switch typ {
		case typeTimestamp:
			return "TIMESTAMPTZ"
		case typeNumeric:
			return "NUMERIC(38,6)"
		}
	}
	return typ
}

func (t table) columnNames() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.name
	}
	return names
}

func (t table) columnDefs(d Dialect, constraints bool) string {
	defs := make([]string, 0, len(t.columns)+1)
	for _, c := range t.columns {
		def := c.name + " " + columnType(d, c.typ)
		if constraints && c.notNull {
			def += " NOT NULL"
		}
		defs = append(defs, def)
	}
	if constraints {
		defs = append(defs, "PRIMARY KEY ("+strings.Join(t.key, ", ")+")")
	}
	return strings.Join(defs, ",\n\t")
}

func (t table) createSQL(d Dialect) []string {
	stmts := []string{
		"CREATE TABLE IF NOT EXISTS " + t.name + " (\n\t" + t.columnDefs(d, true) + "\n)",
	}
	for _, col := range t.indexes {
		stmts = append(stmts, "CREATE INDEX IF NOT EXISTS idx_"+t.name+"_"+col+" ON "+t.name+"("+col+")")
	}
	return stmts
}

// SchemaSQL returns the DDL statements for every table in dialect d.
func SchemaSQL(d Dialect) []string {
	var stmts []string
	for _, t := range allTables {
		stmts = append(stmts, t.createSQL(d)...)
	}
	return stmts
}

// InitSchema creates any missing tables. Existing tables are never altered.
func InitSchema(ctx context.Context, w *Warehouse) error {
	for _, stmt := range SchemaSQL(w.Dialect()) {
		if _, err := w.ExecContext(ctx, stmt); err != nil {
			return eris.Wrapf(err, "failed to initialize schema")
		}
	}
	return nil
}
