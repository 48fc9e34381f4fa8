package stats

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/codefionn/proxymetric/proxymetric-srv/logger"
)

// SchemaInitializer handles database schema initialization and migration
type SchemaInitializer struct {
	db     *sql.DB
	driver string
	schema *DatabaseSchema
}

// NewSchemaInitializer creates a new schema initializer
func NewSchemaInitializer(db *sql.DB, driver string) *SchemaInitializer {
	return &SchemaInitializer{
		db:     db,
		driver: driver,
		schema: GetExpectedSchema(),
	}
}

// InitializeSchema creates missing tables, columns and indexes
func (si *SchemaInitializer) InitializeSchema() error {
	logger.Debug("Initializing database schema (driver: %s, version: %s)", si.driver, si.schema.Version)

	for _, table := range si.schema.Tables {
		if err := si.createTable(table); err != nil {
			return fmt.Errorf("failed to create table %s: %w", table.Name, err)
		}
	}

	for _, table := range si.schema.Tables {
		for _, index := range table.Indexes {
			if err := si.createIndex(index); err != nil {
				return fmt.Errorf("failed to create index %s: %w", index.Name, err)
			}
		}
	}

	logger.Debug("Database schema initialization completed successfully")
	return nil
}

// createTable creates a single table
func (si *SchemaInitializer) createTable(table TableDefinition) error {
	exists, err := si.tableExists(table.Name)
	if err != nil {
		return fmt.Errorf("failed to check if table %s exists: %w", table.Name, err)
	}

	if exists {
		logger.Debug("Table %s already exists, checking for missing columns", table.Name)
		return si.ensureTableColumns(table)
	}

	query := si.generateCreateTableSQL(table)
	logger.Debug("Creating table %s with SQL: %s", table.Name, query)

	if _, err := si.db.Exec(query); err != nil {
		return fmt.Errorf("failed to execute CREATE TABLE for %s: %w", table.Name, err)
	}

	logger.Info("Created table: %s", table.Name)
	return nil
}

// ensureTableColumns adds expected columns missing from an existing table
func (si *SchemaInitializer) ensureTableColumns(table TableDefinition) error {
	actual, err := si.getTableColumns(table.Name)
	if err != nil {
		return fmt.Errorf("failed to get columns for table %s: %w", table.Name, err)
	}

	for _, expectedCol := range table.Columns {
		if actual[expectedCol.Name] {
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", table.Name, si.generateColumnSQL(expectedCol))
		logger.Info("Adding missing column %s to table %s", expectedCol.Name, table.Name)
		if _, err := si.db.Exec(query); err != nil {
			return fmt.Errorf("failed to add column %s to table %s: %w", expectedCol.Name, table.Name, err)
		}
	}
	return nil
}

func (si *SchemaInitializer) getTableColumns(tableName string) (map[string]bool, error) {
	var rows *sql.Rows
	var err error
	switch si.driver {
	case "sqlite3":
		rows, err = si.db.Query(`SELECT name FROM pragma_table_info(?)`, tableName)
	case "postgres":
		rows, err = si.db.Query(`SELECT column_name FROM information_schema.columns
			WHERE table_name = $1 AND table_schema = 'public'`, tableName)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", si.driver)
	}
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			logger.Error("Error closing rows: %v", closeErr)
		}
	}()

	columns := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		columns[name] = true
	}
	return columns, rows.Err()
}

// createIndex creates a single index
func (si *SchemaInitializer) createIndex(index IndexDefinition) error {
	query := si.generateCreateIndexSQL(index)
	logger.Debug("Creating index %s with SQL: %s", index.Name, query)

	if _, err := si.db.Exec(query); err != nil {
		return fmt.Errorf("failed to create index %s: %w", index.Name, err)
	}
	return nil
}

// generateCreateTableSQL generates CREATE TABLE SQL for the specific driver
func (si *SchemaInitializer) generateCreateTableSQL(table TableDefinition) string {
	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n", table.Name))

	columnDefs := make([]string, 0, len(table.Columns))
	for _, column := range table.Columns {
		columnDefs = append(columnDefs, "  "+si.generateColumnSQL(column))
	}

	builder.WriteString(strings.Join(columnDefs, ",\n"))
	builder.WriteString("\n)")

	return builder.String()
}

// generateColumnSQL generates column definition SQL
func (si *SchemaInitializer) generateColumnSQL(column ColumnDefinition) string {
	parts := []string{column.Name, string(si.convertColumnType(column.Type))}

	if column.PrimaryKey && si.driver == "sqlite3" && column.AutoIncrement {
		parts = append(parts, "PRIMARY KEY AUTOINCREMENT")
	} else if column.PrimaryKey {
		parts = append(parts, "PRIMARY KEY")
	}

	if column.NotNull && !column.PrimaryKey {
		parts = append(parts, "NOT NULL")
	}

	if column.Unique {
		parts = append(parts, "UNIQUE")
	}

	if column.DefaultValue != nil {
		parts = append(parts, fmt.Sprintf("DEFAULT %s", *column.DefaultValue))
	}

	return strings.Join(parts, " ")
}

// convertColumnType converts our ColumnType to database-specific types
func (si *SchemaInitializer) convertColumnType(colType ColumnType) ColumnType {
	switch si.driver {
	case "sqlite3":
		switch colType {
		case ColumnTypeSerial:
			return ColumnTypeInteger
		case ColumnTypeTimestamp:
			return ColumnTypeDateTime
		}
	case "postgres":
		switch colType {
		case ColumnTypeTimestamp, ColumnTypeDateTime:
			return "TIMESTAMP WITH TIME ZONE"
		}
	}
	return colType
}

// generateCreateIndexSQL generates CREATE INDEX SQL
func (si *SchemaInitializer) generateCreateIndexSQL(index IndexDefinition) string {
	unique := ""
	if index.Unique {
		unique = "UNIQUE "
	}

	columns := strings.Join(index.Columns, ", ")
	return fmt.Sprintf("CREATE %sINDEX IF NOT EXISTS %s ON %s(%s)",
		unique, index.Name, index.Table, columns)
}

// tableExists checks if a table exists
func (si *SchemaInitializer) tableExists(tableName string) (bool, error) {
	var query string
	switch si.driver {
	case "sqlite3":
		query = `SELECT name FROM sqlite_master WHERE type='table' AND name=?`
	case "postgres":
		query = `SELECT tablename FROM pg_tables WHERE schemaname='public' AND tablename=$1`
	default:
		return false, fmt.Errorf("unsupported driver: %s", si.driver)
	}

	var name string
	err := si.db.QueryRow(query, tableName).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}
