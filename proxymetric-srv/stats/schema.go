package stats

// ColumnType represents the type of a database column
type ColumnType string

const (
	ColumnTypeSerial    ColumnType = "SERIAL"    // PostgreSQL auto-increment
	ColumnTypeInteger   ColumnType = "INTEGER"   // SQLite/PostgreSQL integer
	ColumnTypeText      ColumnType = "TEXT"      // Text/VARCHAR
	ColumnTypeTimestamp ColumnType = "TIMESTAMP" // Timestamp with timezone
	ColumnTypeDateTime  ColumnType = "DATETIME"  // SQLite datetime
)

// ColumnDefinition defines a database column
type ColumnDefinition struct {
	Name          string
	Type          ColumnType
	NotNull       bool
	PrimaryKey    bool
	AutoIncrement bool
	Unique        bool
	DefaultValue  *string
}

// IndexDefinition defines a database index
type IndexDefinition struct {
	Name    string
	Table   string
	Columns []string
	Unique  bool
}

// TableDefinition defines a complete database table
type TableDefinition struct {
	Name    string
	Columns []ColumnDefinition
	Indexes []IndexDefinition
}

// DatabaseSchema defines the complete database schema
type DatabaseSchema struct {
	Tables  []TableDefinition
	Version string
}

// GetExpectedSchema returns the expected database schema
func GetExpectedSchema() *DatabaseSchema {
	return &DatabaseSchema{
		Version: "1.0.0",
		Tables: []TableDefinition{
			{
				Name: "runs",
				Columns: []ColumnDefinition{
					{Name: "id", Type: ColumnTypeSerial, PrimaryKey: true, AutoIncrement: true, NotNull: true},
					{Name: "run_uuid", Type: ColumnTypeText, NotNull: true, Unique: true},
					{Name: "source", Type: ColumnTypeText, NotNull: true},
					{Name: "started_at", Type: ColumnTypeTimestamp, NotNull: true},
					{Name: "ended_at", Type: ColumnTypeTimestamp, NotNull: false},
					{Name: "passes_ok", Type: ColumnTypeInteger, NotNull: false, DefaultValue: stringPtr("0")},
					{Name: "passes_failed", Type: ColumnTypeInteger, NotNull: false, DefaultValue: stringPtr("0")},
				},
				Indexes: []IndexDefinition{
					{Name: "idx_runs_started_at", Table: "runs", Columns: []string{"started_at"}},
				},
			},
			{
				Name: "metric_values",
				Columns: []ColumnDefinition{
					{Name: "id", Type: ColumnTypeSerial, PrimaryKey: true, AutoIncrement: true, NotNull: true},
					{Name: "run_uuid", Type: ColumnTypeText, NotNull: true},
					{Name: "page", Type: ColumnTypeText, NotNull: true},
					{Name: "name", Type: ColumnTypeText, NotNull: true},
					{Name: "units", Type: ColumnTypeText, NotNull: true},
					{Name: "value", Type: ColumnTypeText, NotNull: true},
					{Name: "recorded_at", Type: ColumnTypeTimestamp, NotNull: true},
				},
				Indexes: []IndexDefinition{
					{Name: "idx_metric_values_run_uuid", Table: "metric_values", Columns: []string{"run_uuid"}},
					{Name: "idx_metric_values_name", Table: "metric_values", Columns: []string{"name"}},
				},
			},
			{
				Name: "validation_failures",
				Columns: []ColumnDefinition{
					{Name: "id", Type: ColumnTypeSerial, PrimaryKey: true, AutoIncrement: true, NotNull: true},
					{Name: "run_uuid", Type: ColumnTypeText, NotNull: true},
					{Name: "page", Type: ColumnTypeText, NotNull: true},
					{Name: "pass", Type: ColumnTypeText, NotNull: true},
					{Name: "code", Type: ColumnTypeText, NotNull: true},
					{Name: "description", Type: ColumnTypeText, NotNull: false},
					{Name: "urls", Type: ColumnTypeText, NotNull: false},
					{Name: "recorded_at", Type: ColumnTypeTimestamp, NotNull: true},
				},
				Indexes: []IndexDefinition{
					{Name: "idx_validation_failures_run_uuid", Table: "validation_failures", Columns: []string{"run_uuid"}},
					{Name: "idx_validation_failures_recorded_at", Table: "validation_failures", Columns: []string{"recorded_at"}},
				},
			},
		},
	}
}

func stringPtr(s string) *string {
	return &s
}
