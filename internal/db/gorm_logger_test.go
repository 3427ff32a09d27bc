package db

import "testing"

func TestSummarizeSQL(t *testing.T) {
	cases := []struct{ in, op, table string }{
		{"SELECT * FROM `credentials` WHERE id = ?", "SELECT", "credentials"},
		{"insert into audit_entries (id) values (?)", "INSERT", "audit_entries"},
		{"UPDATE \"credentials\" SET is_default = (id = $1) WHERE user_id = $2", "UPDATE", "credentials"},
		{"DELETE FROM audit_entries WHERE timestamp < ?", "DELETE", "audit_entries"},
		{"SELECT count(*) FROM\n\taudit_entries", "SELECT", "audit_entries"},
		{"SELECT pg_advisory_xact_lock(hashtext($1))", "SELECT", ""},
		{"", "", ""},
	}
	for _, c := range cases {
		op, table := summarizeSQL(c.in)
		if op != c.op || table != c.table {
			t.Fatalf("summarizeSQL(%q)=%q,%q want %q,%q", c.in, op, table, c.op, c.table)
		}
	}
}
