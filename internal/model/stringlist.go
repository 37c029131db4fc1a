package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// StringList is a nullable JSON string array stored in a JSON column.
// A nil list means "unrestricted" and serializes as JSON null, which is
// distinct from an explicit empty list.
type StringList []string

// Contains reports list membership; a nil receiver matches everything.
func (l StringList) Contains(s string) bool {
	if l == nil {
		return true
	}
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}

func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	return json.Marshal(l)
}

func (l *StringList) Scan(src any) error {
	if src == nil {
		*l = nil
		return nil
	}
	var raw []byte
	switch v := src.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported StringList source type %T", src)
	}
	if len(raw) == 0 || string(raw) == "null" {
		*l = nil
		return nil
	}
	return json.Unmarshal(raw, l)
}
