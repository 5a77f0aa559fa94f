package db

import (
	"strings"
	"testing"
)

func TestSchemaDeclaresEntityTables(t *testing.T) {
	for _, table := range []string{
		"users", "quiz_responses", "leads", "content_plan", "scheduled_posts",
		"target_resources", "hunter_observations", "dialog_messages", "audit_log",
	} {
		if !strings.Contains(Schema(), "CREATE TABLE IF NOT EXISTS "+table+" (") {
			t.Fatalf("schema misses table %s", table)
		}
	}
}

func TestSchemaUniqueKeys(t *testing.T) {
	s := Schema()
	if !strings.Contains(s, "url           TEXT        NOT NULL UNIQUE") {
		t.Fatal("hunter_observations.url must be unique")
	}
	if !strings.Contains(s, "ON content_plan (content_hash) WHERE status <> 'failed'") {
		t.Fatal("content hash must be unique across non-failed items")
	}
	if !strings.Contains(s, "link            TEXT        NOT NULL UNIQUE") {
		t.Fatal("target link must be unique")
	}
}
