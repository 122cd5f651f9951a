package postgres

import (
	"fmt"
	"strings"

	"github.com/alanyoungcy/agentdesk/internal/domain"
)

// listQuery appends the time window, ordering and paging from opts to a
// query already holding len(args) placeholders. col is the timestamp column.
func listQuery(base, col string, args []any, opts domain.ListOpts) (string, []any) {
	var b strings.Builder
	b.WriteString(base)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if opts.Since != nil {
		fmt.Fprintf(&b, " AND %s >= %s", col, next(*opts.Since))
	}
	if opts.Until != nil {
		fmt.Fprintf(&b, " AND %s <= %s", col, next(*opts.Until))
	}
	fmt.Fprintf(&b, " ORDER BY %s DESC", col)
	limit := opts.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	fmt.Fprintf(&b, " LIMIT %s", next(limit))
	if opts.Offset > 0 {
		fmt.Fprintf(&b, " OFFSET %s", next(opts.Offset))
	}
	return b.String(), args
}
