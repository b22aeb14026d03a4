package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"github.com/pelletier/go-toml/v2/unstable"
	"gopkg.in/yaml.v3"
)

// Format is a configuration file syntax.
type Format string

const (
	TOML Format = "toml"
	YAML Format = "yaml"
	JSON Format = "json"
)

func formatFor(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		return TOML, nil
	case ".yaml", ".yml":
		return YAML, nil
	case ".json":
		return JSON, nil
	default:
		return "", fmt.Errorf("config file must have .toml, .yaml, .yml or .json extension, got %q", ext)
	}
}

// decode parses data into a generic document and returns the declaration
// order of the controllables.
func (f Format) decode(data []byte) (map[string]any, []string, error) {
	switch f {
	case TOML:
		return decodeTOML(data)
	case YAML:
		return decodeYAML(data)
	case JSON:
		return decodeJSON(data)
	}
	return nil, nil, fmt.Errorf("unsupported format %q", string(f))
}

func decodeTOML(data []byte) (map[string]any, []string, error) {
	doc := make(map[string]any)
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, nil, err
	}
	order, err := tomlControllableOrder(data)
	if err != nil {
		return nil, nil, err
	}
	return doc, order, nil
}

// tomlControllableOrder walks the TOML expressions in document order and
// collects the names declared under the controllables table, whichever of
// the table, dotted-key or inline-table spellings is used.
func tomlControllableOrder(data []byte) ([]string, error) {
	var order []string
	add := func(name string) {
		if !slices.Contains(order, name) {
			order = append(order, name)
		}
	}
	isControllables := func(k string) bool {
		return k == keyControllables || k == strings.ToLower(keyControllables)
	}

	var p unstable.Parser
	p.Reset(data)
	var table []string
	for p.NextExpression() {
		expr := p.Expression()
		switch expr.Kind {
		case unstable.Table, unstable.ArrayTable:
			table = keyParts(expr.Key())
			if len(table) >= 2 && isControllables(table[0]) {
				add(table[1])
			}
		case unstable.KeyValue:
			full := append(slices.Clone(table), keyParts(expr.Key())...)
			switch {
			case len(full) >= 2 && isControllables(full[0]):
				add(full[1])
			case len(full) == 1 && isControllables(full[0]) && expr.Value().Kind == unstable.InlineTable:
				children := expr.Value().Children()
				for children.Next() {
					child := children.Node()
					if child.Kind != unstable.KeyValue {
						continue
					}
					if parts := keyParts(child.Key()); len(parts) > 0 {
						add(parts[0])
					}
				}
			}
		}
	}
	if err := p.Error(); err != nil {
		return nil, err
	}
	return order, nil
}

func keyParts(it unstable.Iterator) []string {
	var parts []string
	for it.Next() {
		parts = append(parts, string(it.Node().Data))
	}
	return parts
}

func decodeYAML(data []byte) (map[string]any, []string, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, nil, err
	}
	doc := make(map[string]any)
	if err := root.Decode(&doc); err != nil {
		return nil, nil, err
	}

	var order []string
	top := &root
	if top.Kind == yaml.DocumentNode && len(top.Content) > 0 {
		top = top.Content[0]
	}
	if top.Kind == yaml.MappingNode {
		for i := 0; i+1 < len(top.Content); i += 2 {
			key, value := top.Content[i], top.Content[i+1]
			if !strings.EqualFold(key.Value, keyControllables) || value.Kind != yaml.MappingNode {
				continue
			}
			for j := 0; j+1 < len(value.Content); j += 2 {
				order = append(order, value.Content[j].Value)
			}
		}
	}
	return doc, order, nil
}

func decodeJSON(data []byte) (map[string]any, []string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	doc := make(map[string]any)
	if err := dec.Decode(&doc); err != nil {
		return nil, nil, err
	}

	var top map[string]json.RawMessage
	if err := json.Unmarshal(data, &top); err != nil {
		return nil, nil, err
	}
	raw, ok := top[keyControllables]
	if !ok {
		raw, ok = top[strings.ToLower(keyControllables)]
	}
	if !ok {
		return doc, nil, nil
	}
	order, err := jsonObjectKeys(raw)
	if err != nil {
		return nil, nil, err
	}
	return doc, order, nil
}

// jsonObjectKeys returns the keys of a JSON object in document order. A
// non-object value yields no keys.
func jsonObjectKeys(raw json.RawMessage) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, nil
	}
	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}
		if !slices.Contains(keys, key) {
			keys = append(keys, key)
		}
		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

// orderedNames returns the keys of table in declaration order. Keys the
// order scan missed are appended sorted.
func orderedNames(table map[string]any, order []string) []string {
	names := make([]string, 0, len(table))
	for _, n := range order {
		if _, ok := table[n]; ok && !slices.Contains(names, n) {
			names = append(names, n)
		}
	}
	var rest []string
	for n := range table {
		if !slices.Contains(names, n) {
			rest = append(rest, n)
		}
	}
	slices.Sort(rest)
	return append(names, rest...)
}

// toInt casts a decoded value to int. Whole floats and numeric strings are
// accepted; fractional values are not.
func toInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, fmt.Errorf("value %d out of range", n)
		}
		return int(n), nil
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return 0, fmt.Errorf("failed to cast %v to int", n)
		}
		return int(n), nil
	case json.Number:
		if i, err := n.Int64(); err == nil {
			return int(i), nil
		}
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("failed to cast %q to int", n.String())
		}
		return toInt(f)
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("failed to cast %q to int", n)
		}
		return i, nil
	case nil:
		return 0, fmt.Errorf("value is empty")
	}
	return 0, fmt.Errorf("failed to cast %v (%T) to int", v, v)
}

// toDuration casts a timeout: a number of seconds, or a duration string
// such as "500ms".
func toDuration(v any) (time.Duration, error) {
	seconds := func(f float64) (time.Duration, error) {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, fmt.Errorf("invalid timeout %v", f)
		}
		return time.Duration(f * float64(time.Second)), nil
	}
	switch n := v.(type) {
	case int:
		return seconds(float64(n))
	case int64:
		return seconds(float64(n))
	case uint64:
		return seconds(float64(n))
	case float64:
		return seconds(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, fmt.Errorf("failed to cast %q to seconds", n.String())
		}
		return seconds(f)
	case string:
		s := strings.TrimSpace(n)
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return seconds(f)
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("failed to cast %q to a duration", n)
		}
		return d, nil
	case nil:
		return 0, fmt.Errorf("value is empty")
	}
	return 0, fmt.Errorf("failed to cast %v (%T) to a duration", v, v)
}
