package store

import (
	"database/sql"
	"log"
	"runtime"

	"github.com/haatos/devflow/internal/settings"
)

// InitReadDatabase opens the read-only connection pool. Handlers listing
// projects, deployments and pipeline runs share it, so it scales with the
// number of cores.
func InitReadDatabase() *sql.DB {
	db := openSQLite(true)
	db.SetMaxOpenConns(max(4, runtime.NumCPU()))
	return db
}

// InitWriteDatabase opens the single-writer connection. Every mutation,
// including the count-and-insert that guards one active deployment per
// project, goes through this one connection.
func InitWriteDatabase() *sql.DB {
	db := openSQLite(false)
	if _, err := db.Exec("PRAGMA temp_store=memory"); err != nil {
		log.Fatal(err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		log.Fatal(err)
	}
	db.SetMaxOpenConns(1)
	return db
}

func openSQLite(readonly bool) *sql.DB {
	db, err := sql.Open("sqlite", settings.Settings.SQLiteDbString(readonly))
	if err != nil {
		log.Fatal("fatal error opening sqlite database:", err)
	}
	return db
}
