package dbx

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// ParamType is the closed set of bind-parameter types. The zero value
// is TypeString, the default for unrecognized tokens.
type ParamType int

const (
	// TypeString binds the value as text.
	TypeString ParamType = iota
	// TypeInt binds the value as a 64-bit integer.
	TypeInt
	// TypeBool binds the value as a boolean.
	TypeBool
	// TypeLOB binds the value as a binary large object.
	TypeLOB
	// TypeNull binds SQL NULL regardless of the value.
	TypeNull
)

// ParseParamType maps the accepted string tokens onto the closed enum.
// Recognized tokens: "int"/"integer", "bool"/"boolean", "lob"/"blob",
// "null". Anything else, including "str", is TypeString.
func ParseParamType(token string) ParamType {
	switch strings.ToLower(strings.TrimSpace(token)) {
	case "int", "integer":
		return TypeInt
	case "bool", "boolean":
		return TypeBool
	case "lob", "blob":
		return TypeLOB
	case "null":
		return TypeNull
	default:
		return TypeString
	}
}

// String returns the canonical token for the type.
func (t ParamType) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeBool:
		return "bool"
	case TypeLOB:
		return "lob"
	case TypeNull:
		return "null"
	default:
		return "str"
	}
}

// coerce converts value into the driver-facing representation for the
// bind type. A nil value always becomes a NULL bind, whatever type was
// requested.
func (t ParamType) coerce(value any) (any, error) {
	if value == nil || t == TypeNull {
		return nil, nil
	}

	switch t {
	case TypeInt:
		return coerceInt(value)
	case TypeBool:
		return coerceBool(value)
	case TypeLOB:
		return coerceLOB(value)
	default:
		return coerceString(value)
	}
}

func coerceInt(value any) (any, error) {
	switch v := value.(type) {
	case int:
		return int64(v), nil
	case int8:
		return int64(v), nil
	case int16:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case uint:
		return int64(v), nil
	case uint8:
		return int64(v), nil
	case uint16:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case uint64:
		if v > math.MaxInt64 {
			return nil, fmt.Errorf("value %d overflows int64", v)
		}
		return int64(v), nil
	case float32:
		return int64(v), nil
	case float64:
		return int64(v), nil
	case bool:
		if v {
			return int64(1), nil
		}
		return int64(0), nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("cannot bind %q as int", v)
		}
		return n, nil
	case []byte:
		return coerceInt(string(v))
	default:
		return nil, fmt.Errorf("cannot bind %T as int", value)
	}
}

func coerceBool(value any) (any, error) {
	switch v := value.(type) {
	case bool:
		return v, nil
	case int:
		return v != 0, nil
	case int8:
		return v != 0, nil
	case int16:
		return v != 0, nil
	case int32:
		return v != 0, nil
	case int64:
		return v != 0, nil
	case uint:
		return v != 0, nil
	case uint8:
		return v != 0, nil
	case uint16:
		return v != 0, nil
	case uint32:
		return v != 0, nil
	case uint64:
		return v != 0, nil
	case float32:
		return v != 0, nil
	case float64:
		return v != 0, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("cannot bind %q as bool", v)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("cannot bind %T as bool", value)
	}
}

func coerceLOB(value any) (any, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case io.Reader:
		data, err := io.ReadAll(v)
		if err != nil {
			return nil, fmt.Errorf("reading lob value: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("cannot bind %T as lob", value)
	}
}

func coerceString(value any) (any, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case time.Time:
		// Drivers format time values natively; stringifying here would
		// fight the driver's own conversion.
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.FormatInt(int64(v), 10), nil
	case int8:
		return strconv.FormatInt(int64(v), 10), nil
	case int16:
		return strconv.FormatInt(int64(v), 10), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint8:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		return fmt.Sprintf("%v", value), nil
	}
}

// placeholderKind describes which placeholder style a query uses.
type placeholderKind int

const (
	placeholderNone placeholderKind = iota
	placeholderPositional
	placeholderNamed
)

// placeholderSet is the result of scanning a query for placeholders.
// Named placeholders are rewritten to "?" in query so the text can be
// rebound to the driver's bindvar style.
type placeholderSet struct {
	kind  placeholderKind
	count int      // number of positional placeholders
	names []string // named placeholders in order of appearance
	query string   // query with named placeholders rewritten to "?"
}

// has reports whether name appears as a placeholder in the query.
func (ps *placeholderSet) has(name string) bool {
	for _, n := range ps.names {
		if n == name {
			return true
		}
	}
	return false
}

// scanPlaceholders walks the query outside of string literals, quoted
// identifiers and comments, collecting "?" positional markers and
// ":name" named markers. "::" casts and ":=" assignments are not
// parameters. Mixing both styles in one query is rejected.
func scanPlaceholders(query string) (*placeholderSet, error) {
	var (
		rewritten strings.Builder
		names     []string
		count     int
	)
	rewritten.Grow(len(query))

	for i := 0; i < len(query); i++ {
		c := query[i]
		switch c {
		case '\'', '"', '`':
			j := skipQuoted(query, i)
			rewritten.WriteString(query[i:j])
			i = j - 1
		case '-':
			if i+1 < len(query) && query[i+1] == '-' {
				j := skipLineComment(query, i)
				rewritten.WriteString(query[i:j])
				i = j - 1
			} else {
				rewritten.WriteByte(c)
			}
		case '/':
			if i+1 < len(query) && query[i+1] == '*' {
				j := skipBlockComment(query, i)
				rewritten.WriteString(query[i:j])
				i = j - 1
			} else {
				rewritten.WriteByte(c)
			}
		case '?':
			count++
			rewritten.WriteByte(c)
		case ':':
			if i+1 < len(query) && (query[i+1] == ':' || query[i+1] == '=') {
				rewritten.WriteByte(c)
				rewritten.WriteByte(query[i+1])
				i++
				continue
			}
			j := i + 1
			for j < len(query) && isNameByte(query[j]) {
				j++
			}
			if j == i+1 {
				rewritten.WriteByte(c)
				continue
			}
			names = append(names, query[i+1:j])
			rewritten.WriteByte('?')
			i = j - 1
		default:
			rewritten.WriteByte(c)
		}
	}

	if len(names) > 0 && count > 0 {
		return nil, newStatementError(CodeBadParameter, query,
			"query mixes named and positional placeholders")
	}

	ps := &placeholderSet{
		count: count,
		names: names,
		query: rewritten.String(),
	}
	switch {
	case len(names) > 0:
		ps.kind = placeholderNamed
	case count > 0:
		ps.kind = placeholderPositional
	}
	return ps, nil
}

// skipQuoted returns the index just past the region opened by the quote
// at start. Doubled quotes and backslash escapes stay inside the
// region; backticks know no backslash escapes.
func skipQuoted(s string, start int) int {
	quote := s[start]
	i := start + 1
	for i < len(s) {
		c := s[i]
		if c == '\\' && quote != '`' {
			i += 2
			continue
		}
		if c == quote {
			if i+1 < len(s) && s[i+1] == quote {
				i += 2
				continue
			}
			return i + 1
		}
		i++
	}
	return len(s)
}

func skipLineComment(s string, start int) int {
	for i := start; i < len(s); i++ {
		if s[i] == '\n' {
			return i + 1
		}
	}
	return len(s)
}

func skipBlockComment(s string, start int) int {
	if end := strings.Index(s[start+2:], "*/"); end >= 0 {
		return start + 2 + end + 2
	}
	return len(s)
}

func isNameByte(c byte) bool {
	return c == '_' ||
		(c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9')
}
