package database

// dialect holds the statements that differ between SQL engines.
type dialect struct {
	driver      string
	schema      []string
	upsertImage string
	upsertUser  string
}

var sqliteDialect = dialect{
	driver: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS users (
			username TEXT PRIMARY KEY,
			password_hash TEXT NOT NULL,
			roles TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS images (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			owner TEXT
		)`,
	},
	upsertImage: `INSERT INTO images (name, owner) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET owner = excluded.owner`,
	upsertUser: `INSERT INTO users (username, password_hash, roles) VALUES (?, ?, ?)
		ON CONFLICT(username) DO UPDATE SET
			password_hash = excluded.password_hash,
			roles = excluded.roles`,
}

// Names map one to one onto files in a case-sensitive upload root, so the MySQL key
// columns use a binary collation instead of the server's case-insensitive default.
var mysqlDialect = dialect{
	driver: "mysql",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS users (
			username VARCHAR(255) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin PRIMARY KEY,
			password_hash VARCHAR(255) NOT NULL,
			roles VARCHAR(1024) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS images (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			name VARCHAR(255) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL UNIQUE,
			owner VARCHAR(255) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NULL
		)`,
	},
	upsertImage: `INSERT INTO images (name, owner) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE owner = VALUES(owner)`,
	upsertUser: `INSERT INTO users (username, password_hash, roles) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE
			password_hash = VALUES(password_hash),
			roles = VALUES(roles)`,
}
