package dbx

import (
	"context"
	"strconv"
	"strings"
)

// Row is a single result row as a mapping from column name to value.
type Row map[string]any

// Grouped is the nested mapping produced by the group-by fetches. Each
// level is keyed by one group column's values; the innermost level
// holds a []Row (or []T for the typed variants), or a map keyed by the
// index column when grouping and indexing combine.
type Grouped map[any]any

// maxGroupDepth is the most group-by levels a fetch supports.
const maxGroupDepth = 3

// parseGroupBy splits a comma-separated group-by list, stripping all
// embedded spaces. One to three column names are allowed; anything else
// is a configuration error raised before any row is fetched.
func parseGroupBy(groupBy string) ([]string, error) {
	cleaned := strings.ReplaceAll(groupBy, " ", "")
	if cleaned == "" {
		return nil, NewError(CodeGroupDepth, "group by needs at least one column")
	}

	labels := strings.Split(cleaned, ",")
	if len(labels) > maxGroupDepth {
		return nil, NewError(CodeGroupDepth,
			"group by supports at most %d columns, got %d", maxGroupDepth, len(labels))
	}
	for _, label := range labels {
		if label == "" {
			return nil, NewError(CodeGroupDepth, "group by has an empty column name")
		}
	}
	return labels, nil
}

// mapKey normalizes a driver value for use as a map key. Byte slices
// are not comparable, so they become strings.
func mapKey(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}

// groupInto walks the nesting for row, creating levels as needed, and
// returns the map owning the innermost slot plus the row's key in it.
func groupInto(root Grouped, row Row, labels []string) (Grouped, any) {
	node := root
	for _, label := range labels[:len(labels)-1] {
		key := mapKey(row[label])
		child, ok := node[key].(Grouped)
		if !ok {
			child = Grouped{}
			node[key] = child
		}
		node = child
	}
	return node, mapKey(row[labels[len(labels)-1]])
}

// Fetch returns the next row as a Row map, or nil at end of data.
func (s *Statement) Fetch(ctx context.Context) (Row, error) {
	ok, err := s.fetchNext(ctx)
	if err != nil || !ok {
		return nil, err
	}
	return s.scanRow()
}

// FetchColumn returns the named column of the next row. The boolean is
// false at end of data. A row lacking the column is a
// CodeMissingColumn error.
func (s *Statement) FetchColumn(ctx context.Context, column string) (any, bool, error) {
	ok, err := s.fetchNext(ctx)
	if err != nil || !ok {
		return nil, false, err
	}

	row, err := s.scanRow()
	if err != nil {
		return nil, false, err
	}

	v, exists := row[column]
	if !exists {
		return nil, false, newStatementError(CodeMissingColumn, s.query,
			"column %q not in result row", column)
	}
	return v, true, nil
}

// FetchInto scans the next row into dest, a pointer to a struct with db
// tags. The boolean is false at end of data.
func (s *Statement) FetchInto(ctx context.Context, dest any) (bool, error) {
	ok, err := s.fetchNext(ctx)
	if err != nil || !ok {
		return false, err
	}

	if err := s.rows.StructScan(dest); err != nil {
		return false, wrapDriverError(err, s.query)
	}
	return true, nil
}

// FetchBound scans the next row into the destinations registered with
// BindColumn. The boolean is false at end of data.
func (s *Statement) FetchBound(ctx context.Context) (bool, error) {
	if len(s.boundColumns) == 0 {
		return false, newStatementError(CodeBadParameter, s.query, "no columns bound")
	}

	ok, err := s.fetchNext(ctx)
	if err != nil || !ok {
		return false, err
	}
	if err := s.scanBound(); err != nil {
		return false, err
	}
	return true, nil
}

// FetchAll drains the result set into a slice of Row maps. An empty
// result set with a clean driver status yields nil, not an empty slice.
func (s *Statement) FetchAll(ctx context.Context) ([]Row, error) {
	var out []Row
	_, err := s.forEachRow(ctx, nil, func(row Row) {
		out = append(out, row)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FetchAllIndexed drains the result set into a map keyed by the indexBy
// column's values. The last row with a given key wins; uniqueness is
// not enforced. Empty result sets yield nil.
func (s *Statement) FetchAllIndexed(ctx context.Context, indexBy string) (map[any]Row, error) {
	var out map[any]Row
	_, err := s.forEachRow(ctx, []string{indexBy}, func(row Row) {
		if out == nil {
			out = make(map[any]Row)
		}
		out[mapKey(row[indexBy])] = row
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FetchAllGrouped drains the result set into nested maps keyed by each
// group column's values in order, the innermost level holding a []Row.
// groupBy is a comma-separated list of one to three column names with
// spaces ignored. Empty result sets yield nil.
func (s *Statement) FetchAllGrouped(ctx context.Context, groupBy string) (Grouped, error) {
	labels, err := parseGroupBy(groupBy)
	if err != nil {
		return nil, err
	}

	var out Grouped
	_, err = s.forEachRow(ctx, labels, func(row Row) {
		if out == nil {
			out = Grouped{}
		}
		node, key := groupInto(out, row, labels)
		rows, _ := node[key].([]Row)
		node[key] = append(rows, row)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FetchAllGroupedIndexed is FetchAllGrouped with the innermost level
// keyed by the indexBy column instead of holding a slice.
func (s *Statement) FetchAllGroupedIndexed(ctx context.Context, groupBy, indexBy string) (Grouped, error) {
	labels, err := parseGroupBy(groupBy)
	if err != nil {
		return nil, err
	}

	var out Grouped
	_, err = s.forEachRow(ctx, append(labels, indexBy), func(row Row) {
		if out == nil {
			out = Grouped{}
		}
		node, key := groupInto(out, row, labels)
		idx, ok := node[key].(map[any]Row)
		if !ok {
			idx = make(map[any]Row)
			node[key] = idx
		}
		idx[mapKey(row[indexBy])] = row
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FetchAllColumn drains the named column of every row into a slice.
// The column is validated against the first row only. Empty result sets
// yield nil, distinct from a non-empty result of NULL values.
func (s *Statement) FetchAllColumn(ctx context.Context, column string) ([]any, error) {
	var out []any
	_, err := s.forEachRow(ctx, []string{column}, func(row Row) {
		out = append(out, row[column])
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// FetchAllColumnIndexed drains the result set into a mapping from the
// indexBy column's value to the named column's value.
func (s *Statement) FetchAllColumnIndexed(ctx context.Context, column, indexBy string) (map[any]any, error) {
	var out map[any]any
	_, err := s.forEachRow(ctx, []string{column, indexBy}, func(row Row) {
		if out == nil {
			out = make(map[any]any)
		}
		out[mapKey(row[indexBy])] = row[column]
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// forEachRow drains the result set, checking that the required columns
// exist in the first row before visiting any row. Later rows are not
// re-validated, matching the single up-front check callers rely on for
// cheap shaping. Reports whether any row was seen.
func (s *Statement) forEachRow(ctx context.Context, required []string, visit func(Row)) (bool, error) {
	ok, err := s.fetchNext(ctx)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	row, err := s.scanRow()
	if err != nil {
		return false, err
	}
	for _, col := range required {
		if _, exists := row[col]; !exists {
			return false, newStatementError(CodeMissingColumn, s.query,
				"column %q not in result row", col)
		}
	}

	for {
		visit(row)

		more, err := s.fetchNext(ctx)
		if err != nil {
			return false, err
		}
		if !more {
			return true, nil
		}
		if row, err = s.scanRow(); err != nil {
			return false, err
		}
	}
}

// scanRow scans the current cursor row into a fresh Row map.
func (s *Statement) scanRow() (Row, error) {
	row := Row{}
	if err := s.rows.MapScan(row); err != nil {
		return nil, wrapDriverError(err, s.query)
	}
	return row, nil
}

// scanBound scans the current cursor row into the bound destinations.
// Unbound columns go to discard slots. Typed destinations convert
// through database/sql; *any destinations get the bind-type conversion.
func (s *Statement) scanBound() error {
	cols, err := s.rows.Columns()
	if err != nil {
		return wrapDriverError(err, s.query)
	}

	targets := make([]any, len(cols))
	for i := range targets {
		targets[i] = new(any)
	}

	for _, bc := range s.boundColumns {
		idx := -1
		if bc.pos > 0 {
			if bc.pos > len(cols) {
				return newStatementError(CodeMissingColumn, s.query,
					"no column at position %d", bc.pos)
			}
			idx = bc.pos - 1
		} else {
			for i, col := range cols {
				if col == bc.name {
					idx = i
					break
				}
			}
			if idx < 0 {
				return newStatementError(CodeMissingColumn, s.query,
					"column %q not in result row", bc.name)
			}
		}
		targets[idx] = bc.dest
	}

	if err := s.rows.Scan(targets...); err != nil {
		return wrapDriverError(err, s.query)
	}

	for _, bc := range s.boundColumns {
		d, ok := bc.dest.(*any)
		if !ok {
			continue
		}
		v, err := bc.typ.coerce(*d)
		if err != nil {
			return newStatementError(CodeBadParameter, s.query,
				"column %s: %v", bc.label(), err)
		}
		*d = v
	}
	return nil
}

func (bc boundColumn) label() string {
	if bc.pos > 0 {
		return strconv.Itoa(bc.pos)
	}
	return bc.name
}
