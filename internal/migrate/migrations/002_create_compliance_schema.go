package migrations

import "github.com/fisioflow/fisioflow-backend/internal/migrate"

var migration002 = &migrate.Migration{
	Name:     "002_create_compliance_schema",
	Database: DatabaseName,
	Up:       `CREATE SCHEMA IF NOT EXISTS compliance`,
	Down:     `DROP SCHEMA IF EXISTS compliance CASCADE`,
}
