package shared

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	_ "github.com/bodega-pos/bodega/testing"
)

func TestAuditInsertColumnsMatchMigration(t *testing.T) {
	sql, err := os.ReadFile(filepath.Join("..", "..", "migrations", "0001_init.sql"))
	require.NoError(t, err)

	block := regexp.MustCompile(`(?s)CREATE TABLE IF NOT EXISTS audit_logs \((.+?)\);`).FindSubmatch(sql)
	require.NotNil(t, block, "audit_logs table missing from migration")

	defined := map[string]bool{}
	for _, line := range strings.Split(string(block[1]), "\n") {
		fields := strings.Fields(line)
		if len(fields) > 0 {
			defined[strings.TrimSuffix(fields[0], ",")] = true
		}
	}

	for _, col := range strings.Split(auditColumns, ", ") {
		require.Truef(t, defined[col], "insert column %q not defined by migration", col)
	}
}

func TestRecordRejectsIncompleteEntries(t *testing.T) {
	logger := NewAuditLogger(nil)
	require.Error(t, logger.Record(context.Background(), AuditLog{Entity: "role", EntityID: 1}))
	require.Error(t, logger.Record(context.Background(), AuditLog{Action: "role.update", EntityID: 1}))

	var missing *AuditLogger
	require.Error(t, missing.Record(context.Background(), AuditLog{Action: "role.update", Entity: "role"}))
}
