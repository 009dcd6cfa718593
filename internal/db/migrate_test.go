package db

import (
	"strings"
	"testing"
)

func TestSchemaScriptsAreOrderedAndIdempotent(t *testing.T) {
	t.Parallel()

	scripts, err := schemaScripts()
	if err != nil {
		t.Fatalf("schemaScripts() error = %v", err)
	}
	if len(scripts) < 2 {
		t.Fatalf("expected several schema scripts, got %d", len(scripts))
	}
	for i := 1; i < len(scripts); i++ {
		if scripts[i-1].name >= scripts[i].name {
			t.Fatalf("scripts out of order: %s before %s", scripts[i-1].name, scripts[i].name)
		}
	}
	for _, s := range scripts {
		if strings.Contains(s.sql, "ADD CONSTRAINT") && !strings.Contains(s.sql, "IF NOT EXISTS") {
			t.Fatalf("%s adds constraints without an existence guard", s.name)
		}
		if strings.Contains(s.sql, "CREATE INDEX") && !strings.Contains(s.sql, "IF NOT EXISTS") {
			t.Fatalf("%s creates indexes without IF NOT EXISTS", s.name)
		}
	}
}

func TestSchemaScriptsDeclareCascadesAndChecks(t *testing.T) {
	t.Parallel()

	scripts, err := schemaScripts()
	if err != nil {
		t.Fatalf("schemaScripts() error = %v", err)
	}
	var all strings.Builder
	for _, s := range scripts {
		all.WriteString(s.sql)
	}
	for _, want := range []string{
		"papers_update_after_submit",
		"versions_paper_fk",
		"comments_paper_fk",
		"scites_paper_fk",
		"ON DELETE CASCADE",
		"feeds_parent_uid_idx",
	} {
		if !strings.Contains(all.String(), want) {
			t.Fatalf("schema scripts do not mention %s", want)
		}
	}
}
