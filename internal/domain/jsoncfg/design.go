package jsoncfg

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

const (
	// DefaultDesignVersion is stamped on records that arrive without a version.
	DefaultDesignVersion = "2024-01"
	versionField         = "version"
)

// DesignChoices is the loosely-typed "design choices" record a UI attaches to
// a generation request. Only the version is understood; every other field is
// carried verbatim so new UI fields need no server change.
type DesignChoices struct {
	Version string
	Fields  map[string]json.RawMessage
}

// ParseDesignChoices decodes raw JSON into a record. Empty input yields an
// empty record with the default version.
func ParseDesignChoices(raw []byte) (DesignChoices, error) {
	var d DesignChoices
	if len(bytes.TrimSpace(raw)) == 0 {
		d.Normalize()
		return d, nil
	}
	if err := json.Unmarshal(raw, &d); err != nil {
		return DesignChoices{}, err
	}
	d.Normalize()
	return d, nil
}

// Normalize applies the default version and allocates Fields.
func (d *DesignChoices) Normalize() {
	if d == nil {
		return
	}
	d.Version = strings.TrimSpace(d.Version)
	if d.Version == "" {
		d.Version = DefaultDesignVersion
	}
	if d.Fields == nil {
		d.Fields = map[string]json.RawMessage{}
	}
}

// Set stores v under key, replacing any previous value.
func (d *DesignChoices) Set(key string, v any) error {
	key = strings.TrimSpace(key)
	if key == "" || key == versionField {
		return fmt.Errorf("design choices: invalid field name %q", key)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("design choices: encode %s: %w", key, err)
	}
	if d.Fields == nil {
		d.Fields = map[string]json.RawMessage{}
	}
	d.Fields[key] = raw
	return nil
}

// Keys lists the carried field names in sorted order.
func (d DesignChoices) Keys() []string {
	keys := make([]string, 0, len(d.Fields))
	for k := range d.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (d DesignChoices) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(d.Fields)+1)
	for k, v := range d.Fields {
		out[k] = v
	}
	version, err := json.Marshal(d.Version)
	if err != nil {
		return nil, err
	}
	out[versionField] = version
	return json.Marshal(out)
}

func (d *DesignChoices) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("design choices: %w", err)
	}
	d.Version = ""
	if raw, ok := fields[versionField]; ok {
		if err := json.Unmarshal(raw, &d.Version); err != nil {
			return fmt.Errorf("design choices: version must be a string: %w", err)
		}
		delete(fields, versionField)
	}
	d.Fields = fields
	return nil
}
