package db

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"gorm.io/gorm"
)

//go:embed sql/*.sql
var schemaFS embed.FS

// Held for the whole migration so a serve process and a CLI command starting
// together do not race on the same DDL.
const schemaLockKey = 0x70617065 // "pape"

type schemaScript struct {
	name string
	sql  string
}

// schemaScripts returns the embedded constraint and index scripts in file-name
// order. Each one is idempotent.
func schemaScripts() ([]schemaScript, error) {
	entries, err := fs.ReadDir(schemaFS, "sql")
	if err != nil {
		return nil, fmt.Errorf("list schema scripts: %w", err)
	}

	scripts := make([]schemaScript, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		raw, err := schemaFS.ReadFile("sql/" + entry.Name())
		if err != nil {
			return nil, fmt.Errorf("read schema script %s: %w", entry.Name(), err)
		}
		if text := strings.TrimSpace(string(raw)); text != "" {
			scripts = append(scripts, schemaScript{name: entry.Name(), sql: text})
		}
	}
	sort.Slice(scripts, func(i, j int) bool { return scripts[i].name < scripts[j].name })
	return scripts, nil
}

// autoMigrate lets GORM create tables and columns, then applies the checks,
// cascading uid foreign keys and indexes GORM cannot express.
func (p *Pool) autoMigrate(ctx context.Context) error {
	if p == nil || p.gdb == nil {
		return fmt.Errorf("database pool is not initialized")
	}

	scripts, err := schemaScripts()
	if err != nil {
		return err
	}

	return p.withTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Exec(fmt.Sprintf("SELECT pg_advisory_xact_lock(%d)", schemaLockKey)).Error; err != nil {
			return fmt.Errorf("acquire schema lock: %w", err)
		}
		if err := tx.AutoMigrate(autoMigrateModels()...); err != nil {
			return fmt.Errorf("gorm auto-migrate models: %w", err)
		}
		for _, script := range scripts {
			if err := tx.Exec(script.sql).Error; err != nil {
				return fmt.Errorf("apply %s: %w", script.name, err)
			}
		}
		return nil
	})
}
