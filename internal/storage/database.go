package storage

import (
	"database/sql"
	"fmt"
	"strings"

	"debatelab/internal/config"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Open connects to the configured database for the given driver type.
func Open(dbType string, cfg *config.Config) (*sql.DB, error) {
	dbCfg, ok := cfg.Databases[dbType]
	if !ok {
		return nil, fmt.Errorf("database config for %s not found", dbType)
	}

	var (
		db  *sql.DB
		err error
	)

	switch strings.ToLower(dbType) {
	case "sqlite", "sqlite3":
		if dbCfg.DSN == "" {
			return nil, fmt.Errorf("sqlite dsn must be provided")
		}
		db, err = sql.Open("sqlite3", dbCfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite database: %w", err)
		}
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	case "mysql":
		dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?%s",
			dbCfg.Username,
			dbCfg.Password,
			dbCfg.Host,
			dbCfg.Port,
			dbCfg.DBName,
			dbCfg.Params,
		)
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			return nil, fmt.Errorf("open mysql database: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported driver: %s", dbType)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Migrate ensures the required tables are present.
func Migrate(db *sql.DB, driver string) error {
	var stmts []string
	switch strings.ToLower(driver) {
	case "sqlite", "sqlite3":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS rooms (
				id TEXT PRIMARY KEY,
				type TEXT NOT NULL,
				status TEXT NOT NULL,
				topic TEXT NOT NULL,
				confederate_name TEXT NOT NULL DEFAULT '',
				team_assignments TEXT NOT NULL DEFAULT '',
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_rooms_type_status ON rooms(type, status)`,
			`CREATE TABLE IF NOT EXISTS room_members (
				room_id TEXT NOT NULL,
				user_id TEXT NOT NULL,
				user_name TEXT NOT NULL,
				kind TEXT NOT NULL,
				team TEXT NOT NULL DEFAULT '',
				persona TEXT NOT NULL DEFAULT '',
				debate_topic TEXT NOT NULL DEFAULT '',
				position_data TEXT,
				joined_at DATETIME NOT NULL,
				PRIMARY KEY (room_id, user_id),
				FOREIGN KEY(room_id) REFERENCES rooms(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_room_members_room ON room_members(room_id)`,
			`CREATE TABLE IF NOT EXISTS messages (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				room_id TEXT NOT NULL,
				sender_id TEXT NOT NULL,
				role TEXT NOT NULL,
				content TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				FOREIGN KEY(room_id) REFERENCES rooms(id) ON DELETE CASCADE
			)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_room_created ON messages(room_id, created_at)`,
		}
	case "mysql":
		stmts = []string{
			`CREATE TABLE IF NOT EXISTS rooms (
				id VARCHAR(64) NOT NULL,
				type VARCHAR(50) NOT NULL,
				status VARCHAR(50) NOT NULL,
				topic VARCHAR(512) NOT NULL,
				confederate_name VARCHAR(255) NOT NULL DEFAULT '',
				team_assignments TEXT NOT NULL,
				created_at DATETIME NOT NULL,
				updated_at DATETIME NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_rooms_type_status (type, status)
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS room_members (
				room_id VARCHAR(64) NOT NULL,
				user_id VARCHAR(255) NOT NULL,
				user_name VARCHAR(255) NOT NULL,
				kind VARCHAR(50) NOT NULL,
				team VARCHAR(50) NOT NULL DEFAULT '',
				persona VARCHAR(255) NOT NULL DEFAULT '',
				debate_topic VARCHAR(512) NOT NULL DEFAULT '',
				position_data TEXT,
				joined_at DATETIME NOT NULL,
				PRIMARY KEY (room_id, user_id),
				CONSTRAINT fk_room_members_room FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
			`CREATE TABLE IF NOT EXISTS messages (
				id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
				room_id VARCHAR(64) NOT NULL,
				sender_id VARCHAR(255) NOT NULL,
				role VARCHAR(50) NOT NULL,
				content MEDIUMTEXT NOT NULL,
				created_at DATETIME(3) NOT NULL,
				PRIMARY KEY (id),
				INDEX idx_messages_room_created (room_id, created_at),
				CONSTRAINT fk_messages_room FOREIGN KEY (room_id) REFERENCES rooms(id) ON DELETE CASCADE
			) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
		}
	default:
		return fmt.Errorf("unsupported driver for migration: %s", driver)
	}

	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate (%s): %w", driver, err)
		}
	}
	return nil
}

// GuardedMemberInsert returns the driver-specific statement that inserts a
// membership row only while the room still has fewer than ? human seats
// taken. The count check and the insert happen in one statement so two
// near-simultaneous joins cannot both land in an almost-full room.
// Placeholders: room_id, user_id, user_name, kind, team, persona,
// debate_topic, position_data, joined_at, room_id (count), capacity.
func GuardedMemberInsert(driver string) string {
	const cols = `room_members (room_id, user_id, user_name, kind, team, persona, debate_topic, position_data, joined_at)`
	switch strings.ToLower(driver) {
	case "mysql":
		return `INSERT INTO ` + cols + `
			SELECT ?, ?, ?, ?, ?, ?, ?, ?, ? FROM DUAL
			WHERE (SELECT COUNT(*) FROM room_members WHERE room_id = ? AND kind = 'human') < ?`
	default: // sqlite accepts SELECT without FROM
		return `INSERT INTO ` + cols + `
			SELECT ?, ?, ?, ?, ?, ?, ?, ?, ?
			WHERE (SELECT COUNT(*) FROM room_members WHERE room_id = ? AND kind = 'human') < ?`
	}
}
