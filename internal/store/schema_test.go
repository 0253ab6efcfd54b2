package store

import (
	"strings"
	"testing"
)

func TestSchemaDeclaresSettlementConstraints(t *testing.T) {
	t.Parallel()

	// The database is the last line of defense for the settlement
	// invariants; these clauses must not regress out of the DDL.
	wants := []string{
		"CHECK ((debit > 0 AND credit = 0) OR (credit > 0 AND debit = 0))",
		"CHECK (tif_seconds > 0)",
		"CHECK (filled_quantity >= 0 AND filled_quantity <= quantity)",
		"CHECK (quantity >= 0)",
		"idx_orders_symbol_status_side",
		"uq_traders_single_admin",
		"uq_orders_symbol_sequence",
	}
	for _, want := range wants {
		if !strings.Contains(schema, want) {
			t.Errorf("schema is missing %q", want)
		}
	}
}
