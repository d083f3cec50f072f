package database

import (
	"database/sql"

	_ "github.com/go-sql-driver/mysql"
)

// NewMySQLDatabase expects a go-sql-driver DSN such as "user:pass@tcp(host:3306)/imagestore".
func NewMySQLDatabase(connectionString string) (DatabaseService, error) {
	db, err := sql.Open(mysqlDialect.driver, connectionString)
	if err != nil {
		return nil, err
	}

	return &SQLDatabase{
		db:               db,
		dialect:          mysqlDialect,
		connectionString: connectionString,
	}, nil
}
