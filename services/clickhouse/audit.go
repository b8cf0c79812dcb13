package clickhouse

import (
	"context"
	"fmt"
)

// AuditCheck is one data-quality query and the number of rows breaking it.
type AuditCheck struct {
	Name       string `json:"name"`
	Violations uint64 `json:"violations"`
}

type auditQuery struct {
	name  string
	query string
}

// auditQueries checks canonical bars. Each query returns a single count.
func auditQueries(table string) []auditQuery {
	return []auditQuery{
		{"ohlc_invariant", fmt.Sprintf(`SELECT count() FROM %s FINAL
			WHERE low > high OR low > least(open, close) OR high < greatest(open, close)`, table)},
		{"non_positive_price", fmt.Sprintf(`SELECT count() FROM %s FINAL
			WHERE low <= 0 OR open <= 0 OR close <= 0`, table)},
		{"negative_volume", fmt.Sprintf(`SELECT count() FROM %s FINAL WHERE volume < 0`, table)},
		{"future_dates", fmt.Sprintf(`SELECT count() FROM %s FINAL WHERE date > today()`, table)},
	}
}

// Audit runs every data-quality query against the canonical bars table.
func (s *Store) Audit(ctx context.Context) ([]AuditCheck, error) {
	checks := auditQueries(s.table(TableDailyBars))
	out := make([]AuditCheck, 0, len(checks))
	for _, c := range checks {
		var n uint64
		if err := s.conn.QueryRow(ctx, c.query).Scan(&n); err != nil {
			return nil, fmt.Errorf("audit %s: %w", c.name, err)
		}
		out = append(out, AuditCheck{Name: c.name, Violations: n})
	}
	return out, nil
}
