package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readMigration(t *testing.T, suffix string) string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join("migrations", "*_"+suffix+".sql"))
	if err != nil {
		t.Fatalf("glob migrations: %v", err)
	}
	if len(matches) == 0 {
		t.Fatalf("no %s migration file found", suffix)
	}
	data, err := os.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("read migration file: %v", err)
	}
	return string(data)
}

func TestLedgerMigrationIsAppendOnly(t *testing.T) {
	content := readMigration(t, "create_ledger_transactions")

	checks := []string{
		"CREATE TABLE IF NOT EXISTS ledger_transactions",
		"FOREIGN KEY (account_id) REFERENCES accounts(id)",
		"ON ledger_transactions (account_id, created_at)",
		"ON ledger_transactions (account_id, account_version)",
		"BEFORE UPDATE OR DELETE ON ledger_transactions",
		"DROP TABLE IF EXISTS ledger_transactions",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestAccountMigrationGuardsBalanceFields(t *testing.T) {
	content := readMigration(t, "create_accounts")

	checks := []string{
		"CHECK (purchased_credits >= 0)",
		"CHECK (usage_this_period >= 0)",
		"version bigint NOT NULL DEFAULT 0",
	}
	for _, sub := range checks {
		if !strings.Contains(content, sub) {
			t.Errorf("missing expected statement %q", sub)
		}
	}
}

func TestArtifactMigrationIndexesStatus(t *testing.T) {
	content := readMigration(t, "create_artifacts")
	if !strings.Contains(content, "ON artifacts (account_id, created_at, status)") {
		t.Errorf("missing artifact listing index")
	}
	if !strings.Contains(content, "CHECK (status = 'completed' OR payload_key IS NULL)") {
		t.Errorf("missing evicted payload constraint")
	}
}
