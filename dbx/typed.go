package dbx

import (
	"context"
	"reflect"

	"github.com/jmoiron/sqlx/reflectx"
)

// Get scans the next row into a fresh T and returns it. At end of data
// it returns nil with no error. T must be a struct type mapped through
// db tags the way sqlx maps them.
func Get[T any](ctx context.Context, s *Statement) (*T, error) {
	ok, err := s.fetchNext(ctx)
	if err != nil || !ok {
		return nil, err
	}

	var v T
	if err := s.rows.StructScan(&v); err != nil {
		return nil, wrapDriverError(err, s.query)
	}
	return &v, nil
}

// Select drains the result set into a []T. Empty result sets yield nil.
func Select[T any](ctx context.Context, s *Statement) ([]T, error) {
	var out []T
	for {
		v, ok, err := nextStruct[T](ctx, s)
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, v)
	}
}

// SelectIndexed drains the result set into a map keyed by the indexBy
// field's values. indexBy names the column the way a db tag does, and
// is resolved against T before any row is fetched. The last row with a
// given key wins.
func SelectIndexed[T any](ctx context.Context, s *Statement, indexBy string) (map[any]T, error) {
	fields, err := fieldIndexes[T](s, []string{indexBy})
	if err != nil {
		return nil, err
	}

	var out map[any]T
	for {
		v, ok, err := nextStruct[T](ctx, s)
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		if out == nil {
			out = make(map[any]T)
		}
		out[fieldKey(reflect.ValueOf(v), fields[indexBy])] = v
	}
}

// SelectGrouped drains the result set into nested maps keyed by each
// group field's values in order, the innermost level holding a []T.
// groupBy follows the same comma-separated form as FetchAllGrouped.
func SelectGrouped[T any](ctx context.Context, s *Statement, groupBy string) (Grouped, error) {
	labels, err := parseGroupBy(groupBy)
	if err != nil {
		return nil, err
	}
	fields, err := fieldIndexes[T](s, labels)
	if err != nil {
		return nil, err
	}

	var out Grouped
	for {
		v, ok, err := nextStruct[T](ctx, s)
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		if out == nil {
			out = Grouped{}
		}
		node, key := groupIntoFields(out, reflect.ValueOf(v), labels, fields)
		vs, _ := node[key].([]T)
		node[key] = append(vs, v)
	}
}

// SelectGroupedIndexed is SelectGrouped with the innermost level keyed
// by the indexBy field instead of holding a slice.
func SelectGroupedIndexed[T any](ctx context.Context, s *Statement, groupBy, indexBy string) (Grouped, error) {
	labels, err := parseGroupBy(groupBy)
	if err != nil {
		return nil, err
	}
	fields, err := fieldIndexes[T](s, append(labels, indexBy))
	if err != nil {
		return nil, err
	}

	var out Grouped
	for {
		v, ok, err := nextStruct[T](ctx, s)
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		if out == nil {
			out = Grouped{}
		}
		rv := reflect.ValueOf(v)
		node, key := groupIntoFields(out, rv, labels, fields)
		idx, exists := node[key].(map[any]T)
		if !exists {
			idx = make(map[any]T)
			node[key] = idx
		}
		idx[fieldKey(rv, fields[indexBy])] = v
	}
}

// nextStruct advances the cursor and scans the row into a new T. The
// boolean is false at end of data.
func nextStruct[T any](ctx context.Context, s *Statement) (T, bool, error) {
	var v T
	ok, err := s.fetchNext(ctx)
	if err != nil || !ok {
		return v, false, err
	}
	if err := s.rows.StructScan(&v); err != nil {
		return v, false, wrapDriverError(err, s.query)
	}
	return v, true, nil
}

// fieldIndexes resolves column names to struct field paths through the
// connection's mapper, before any row is fetched. An unmapped name is a
// CodeMissingColumn error.
func fieldIndexes[T any](s *Statement, names []string) (map[string][]int, error) {
	var t T
	tm := s.conn.db.Mapper.TypeMap(reflect.TypeOf(t))

	out := make(map[string][]int, len(names))
	for _, name := range names {
		fi, ok := tm.Names[name]
		if !ok {
			return nil, newStatementError(CodeMissingColumn, s.query,
				"type %T has no field for column %q", t, name)
		}
		out[name] = fi.Index
	}
	return out, nil
}

// fieldKey extracts a map key from the struct field at the given path.
func fieldKey(v reflect.Value, indexes []int) any {
	return mapKey(reflectx.FieldByIndexesReadOnly(v, indexes).Interface())
}

// groupIntoFields mirrors groupInto for struct values, keying each
// level by the mapped field's value.
func groupIntoFields(root Grouped, v reflect.Value, labels []string, fields map[string][]int) (Grouped, any) {
	node := root
	for _, label := range labels[:len(labels)-1] {
		key := fieldKey(v, fields[label])
		child, ok := node[key].(Grouped)
		if !ok {
			child = Grouped{}
			node[key] = child
		}
		node = child
	}
	return node, fieldKey(v, fields[labels[len(labels)-1]])
}
