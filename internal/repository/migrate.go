package repository

import (
	"context"
	"log/slog"
	"time"

	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

var (
	// CasesColumns holds the columns for the "cases" table.
	CasesColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "org_id", Type: field.TypeString},
		{Name: "user_id", Type: field.TypeString},
		{Name: "case_title", Type: field.TypeString},
		{Name: "file_name", Type: field.TypeString},
		{Name: "file_size", Type: field.TypeInt64},
		{Name: "file_url", Type: field.TypeString},
		{Name: "status", Type: field.TypeString, Default: "pending"},
		{Name: "analysis_mode", Type: field.TypeString, Default: "default"},
		{Name: "analysis_progress", Type: field.TypeInt, Default: 0},
		{Name: "current_step", Type: field.TypeString, Default: ""},
		{Name: "default_recommendations", Type: field.TypeJSON, Nullable: true},
		{Name: "parameterized_recommendations", Type: field.TypeJSON, Nullable: true},
		{Name: "error_message", Type: field.TypeString, Nullable: true, Size: 2147483647},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "updated_at", Type: field.TypeTime},
		{Name: "analyzed_at", Type: field.TypeTime, Nullable: true},
		{Name: "parameterized_analyzed_at", Type: field.TypeTime, Nullable: true},
	}
	// CasesTable holds the schema information for the "cases" table.
	CasesTable = &schema.Table{
		Name:       "cases",
		Columns:    CasesColumns,
		PrimaryKey: []*schema.Column{CasesColumns[0]},
		Indexes: []*schema.Index{
			{Name: "cases_org_id_created_at", Columns: []*schema.Column{CasesColumns[1], CasesColumns[14]}},
			{Name: "cases_status_updated_at", Columns: []*schema.Column{CasesColumns[7], CasesColumns[15]}},
		},
	}
	// InstitutionRulesColumns holds the columns for the "institution_rules" table.
	InstitutionRulesColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "org_id", Type: field.TypeString},
		{Name: "institution", Type: field.TypeString},
		{Name: "version", Type: field.TypeString},
		{Name: "document_type", Type: field.TypeString},
		{Name: "ref", Type: field.TypeString},
		{Name: "title", Type: field.TypeString, Nullable: true},
		{Name: "summary", Type: field.TypeString, Nullable: true, Size: 2147483647},
		{Name: "mandatory", Type: field.TypeBool, Default: false},
		{Name: "parameter_tag", Type: field.TypeString, Nullable: true},
		{Name: "extra_data", Type: field.TypeJSON, Nullable: true},
		{Name: "non_derogable", Type: field.TypeBool, Default: false},
		{Name: "annulment_linked", Type: field.TypeBool, Default: false},
		{Name: "hierarchy_level", Type: field.TypeInt, Default: 0},
		{Name: "ai_usage", Type: field.TypeString, Nullable: true, Size: 2147483647},
	}
	// InstitutionRulesTable holds the schema information for the "institution_rules" table.
	InstitutionRulesTable = &schema.Table{
		Name:       "institution_rules",
		Columns:    InstitutionRulesColumns,
		PrimaryKey: []*schema.Column{InstitutionRulesColumns[0]},
		Indexes: []*schema.Index{
			{
				Name:    "institution_rules_org_id_institution_version_ref",
				Unique:  true,
				Columns: []*schema.Column{InstitutionRulesColumns[1], InstitutionRulesColumns[2], InstitutionRulesColumns[3], InstitutionRulesColumns[5]},
			},
			{Name: "institution_rules_org_id_hierarchy_level", Columns: []*schema.Column{InstitutionRulesColumns[1], InstitutionRulesColumns[13]}},
		},
	}
	// ProceduralOrdersColumns holds the columns for the "procedural_orders" table.
	ProceduralOrdersColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "org_id", Type: field.TypeString},
		{Name: "institution", Type: field.TypeString},
		{Name: "administering_institution", Type: field.TypeString, Nullable: true},
		{Name: "case_type", Type: field.TypeString, Nullable: true},
		{Name: "procedural_order_number", Type: field.TypeString},
		{Name: "rules_context", Type: field.TypeJSON, Nullable: true},
		{Name: "order_date", Type: field.TypeTime, Nullable: true},
		{Name: "source_pdf_path", Type: field.TypeString, Nullable: true},
		{Name: "created_at", Type: field.TypeTime},
		{Name: "extracted_json", Type: field.TypeJSON, Nullable: true},
		{Name: "procedural_order_index", Type: field.TypeInt, Nullable: true},
	}
	// ProceduralOrdersTable holds the schema information for the "procedural_orders" table.
	ProceduralOrdersTable = &schema.Table{
		Name:       "procedural_orders",
		Columns:    ProceduralOrdersColumns,
		PrimaryKey: []*schema.Column{ProceduralOrdersColumns[0]},
		Indexes: []*schema.Index{
			{Name: "procedural_orders_org_id", Columns: []*schema.Column{ProceduralOrdersColumns[1]}},
			{Name: "procedural_orders_org_id_source_pdf_path", Columns: []*schema.Column{ProceduralOrdersColumns[1], ProceduralOrdersColumns[8]}},
		},
	}
	// ProceduralEventsColumns holds the columns for the "procedural_events" table.
	ProceduralEventsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "procedural_order_id", Type: field.TypeUUID},
		{Name: "event_type", Type: field.TypeString},
		{Name: "decision_value", Type: field.TypeString, Nullable: true, Size: 2147483647},
		{Name: "discretionary", Type: field.TypeBool, Default: false},
		{Name: "source_rule_ref", Type: field.TypeString, Nullable: true},
		{Name: "extra_data", Type: field.TypeJSON, Nullable: true},
		{Name: "created_at", Type: field.TypeTime},
	}
	// ProceduralEventsTable holds the schema information for the "procedural_events" table.
	ProceduralEventsTable = &schema.Table{
		Name:       "procedural_events",
		Columns:    ProceduralEventsColumns,
		PrimaryKey: []*schema.Column{ProceduralEventsColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "procedural_events_procedural_orders_events",
				Columns:    []*schema.Column{ProceduralEventsColumns[1]},
				RefColumns: []*schema.Column{ProceduralOrdersColumns[0]},
				OnDelete:   schema.Cascade,
			},
		},
	}
	// ProceduralTimelinesColumns holds the columns for the "procedural_timelines" table.
	ProceduralTimelinesColumns = []*schema.Column{
		{Name: "id", Type: field.TypeUUID},
		{Name: "procedural_order_id", Type: field.TypeUUID},
		{Name: "phase", Type: field.TypeString},
		{Name: "party", Type: field.TypeString, Nullable: true},
		{Name: "days", Type: field.TypeInt, Default: 0},
		{Name: "relative_to", Type: field.TypeString, Nullable: true},
		{Name: "created_at", Type: field.TypeTime},
	}
	// ProceduralTimelinesTable holds the schema information for the "procedural_timelines" table.
	ProceduralTimelinesTable = &schema.Table{
		Name:       "procedural_timelines",
		Columns:    ProceduralTimelinesColumns,
		PrimaryKey: []*schema.Column{ProceduralTimelinesColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "procedural_timelines_procedural_orders_timelines",
				Columns:    []*schema.Column{ProceduralTimelinesColumns[1]},
				RefColumns: []*schema.Column{ProceduralOrdersColumns[0]},
				OnDelete:   schema.Cascade,
			},
		},
	}
	// Tables holds all the tables in the schema.
	Tables = []*schema.Table{
		CasesTable,
		InstitutionRulesTable,
		ProceduralOrdersTable,
		ProceduralEventsTable,
		ProceduralTimelinesTable,
	}
)

func init() {
	ProceduralEventsTable.ForeignKeys[0].RefTable = ProceduralOrdersTable
	ProceduralTimelinesTable.ForeignKeys[0].RefTable = ProceduralOrdersTable
}

// Migrate creates or upgrades the schema in place.
func Migrate(ctx context.Context, db *DB, logger *slog.Logger) error {
	start := time.Now()
	logger.Info("db.migrate.start", "dialect", db.Dialect())
	m, err := schema.NewMigrate(db.Driver, schema.WithForeignKeys(true))
	if err != nil {
		logger.Error("db.migrate.error", "error", err)
		return err
	}
	if err := m.Create(ctx, Tables...); err != nil {
		logger.Error("db.migrate.error", "error", err)
		return err
	}
	logger.Info("db.migrate.ok", "tables", len(Tables), "elapsed_ms", time.Since(start).Milliseconds())
	return nil
}
