package core

import (
	"database/sql"
	"strconv"
	"strings"
	"time"
)

// scanRows reads every row into a generic row object, mapping each column
// through its declared database type.
func scanRows(rows *sql.Rows) ([]map[string]interface{}, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	var out []map[string]interface{}

	for rows.Next() {
		vals := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		obj := make(map[string]interface{}, len(cols))
		for i, name := range cols {
			obj[name] = columnValue(types[i].DatabaseTypeName(), vals[i])
		}
		out = append(out, obj)
	}
	return out, rows.Err()
}

// columnValue maps one scanned value to its JSON form based on the declared
// column type. Blobs and unknown declared types map to null; a driver that
// declares no type at all is mapped by the Go value it produced.
func columnValue(declared string, v interface{}) interface{} {
	if v == nil {
		return nil
	}

	dt := strings.ToUpper(declared)
	switch {
	case dt == "":
		return nativeValue(v)

	case strings.Contains(dt, "INT"):
		switch t := v.(type) {
		case int64:
			return t
		case []byte:
			if n, err := strconv.ParseInt(string(t), 10, 64); err == nil {
				return n
			}
		case float64:
			return int64(t)
		}
		return nil

	case strings.Contains(dt, "REAL"), strings.Contains(dt, "NUMERIC"),
		strings.Contains(dt, "FLOAT"), strings.Contains(dt, "DOUBLE"),
		strings.Contains(dt, "DECIMAL"):
		switch t := v.(type) {
		case float64:
			return t
		case int64:
			return float64(t)
		case []byte:
			if f, err := strconv.ParseFloat(string(t), 64); err == nil {
				return f
			}
		}
		return nil

	case strings.Contains(dt, "BOOL"):
		switch t := v.(type) {
		case bool:
			return t
		case int64:
			return t != 0
		case []byte:
			return string(t) == "1" || strings.EqualFold(string(t), "true")
		}
		return nil

	case strings.Contains(dt, "CHAR"), strings.Contains(dt, "TEXT"),
		strings.Contains(dt, "DATE"), strings.Contains(dt, "TIME"),
		strings.Contains(dt, "UUID"), strings.Contains(dt, "JSON"):
		switch t := v.(type) {
		case string:
			return t
		case []byte:
			return string(t)
		case time.Time:
			return t.Format(time.RFC3339)
		}
		return nil

	case strings.Contains(dt, "BLOB"), strings.Contains(dt, "BYTEA"),
		strings.Contains(dt, "BINARY"):
		return nil

	default:
		return nil
	}
}

// nativeValue maps a scanned value by its Go type when the driver declared
// no column type.
func nativeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case int64, float64, bool, string:
		return t
	case []byte:
		return string(t)
	case time.Time:
		return t.Format(time.RFC3339)
	default:
		return nil
	}
}
