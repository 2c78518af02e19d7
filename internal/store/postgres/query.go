package postgres

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/autobot/internal/domain"
)

// query accumulates a SELECT with numbered placeholders.
type query struct {
	sql    string
	args   []any
	wheres int
}

func newQuery(base string) *query {
	return &query{sql: base}
}

func (q *query) arg(v any) string {
	q.args = append(q.args, v)
	return fmt.Sprintf("$%d", len(q.args))
}

// where appends a condition; cond holds one %s for the placeholder of v.
func (q *query) where(cond string, v any) {
	if q.wheres == 0 {
		q.sql += " WHERE "
	} else {
		q.sql += " AND "
	}
	q.wheres++
	q.sql += strings.Replace(cond, "%s", q.arg(v), 1)
}

func (q *query) page(opts domain.ListOpts) {
	if opts.Limit > 0 {
		q.sql += " LIMIT " + q.arg(opts.Limit)
	}
	if opts.Offset > 0 {
		q.sql += " OFFSET " + q.arg(opts.Offset)
	}
}
