// Package repository implements the engine store contracts on
// PostgreSQL via database/sql and lib/pq. Lookups return (nil, nil)
// when the row does not exist; soft deletes flip status columns.
package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// marshalMap serializes a JSON column value; nil maps become SQL NULL.
func marshalMap(m map[string]interface{}) (interface{}, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal json column: %w", err)
	}
	return b, nil
}

// unmarshalMap parses a JSON column; NULL and empty come back as nil.
func unmarshalMap(b []byte) (map[string]interface{}, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("unmarshal json column: %w", err)
	}
	return m, nil
}

// nullStr maps empty strings to SQL NULL.
func nullStr(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
