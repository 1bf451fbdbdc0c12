package queryir

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/roach88/stateindex/internal/entry"
)

var (
	requestFields  = []string{"filter", "sort", "limit", "offset"}
	filterKeys     = []string{"and", "or", "in", "fragment", "value_fragment", "key", "value", "address"}
	sortKeys       = []string{"fragment", "value_fragment", "key", "value", "address", "base"}
	propertyKeys   = []string{"fragment", "key", "value", "address"}
	fragmentFields = []string{"position", "type", "operation", "value"}
)

const invalidLiteralReason = "Invalid value type, should be one of Array<u8>, boolean, number, String."

// ParseSearchRequest decodes a JSON search request.
//
// Unknown top-level fields are rejected. Missing limit and offset take their
// defaults. Shape errors are reported as *ValidationError with the path of
// the offending input. Payloads that are not JSON at all wrap
// ErrMalformedBody.
//
// ParseSearchRequest does not check semantic rules (type agreement,
// operation support, limits); call Validate for those.
func ParseSearchRequest(data []byte) (*SearchRequest, error) {
	if !json.Valid(data) {
		return nil, ErrMalformedBody
	}

	fields, err := decodeObjectWith("request", data, func(key string) *ValidationError {
		return NewInvalidParameter(key, "unknown field, should be one of: %s.", strings.Join(requestFields, ", "))
	}, requestFields)
	if err != nil {
		return nil, err
	}

	req := NewSearchRequest()
	if raw, ok := present(fields, "limit"); ok {
		if req.Limit, err = decodeUint("limit", raw); err != nil {
			return nil, err
		}
	}
	if raw, ok := present(fields, "offset"); ok {
		if req.Offset, err = decodeUint("offset", raw); err != nil {
			return nil, err
		}
	}
	if raw, ok := present(fields, "filter"); ok {
		if req.Filter, err = decodeFilter("filter", raw); err != nil {
			return nil, err
		}
	}
	if raw, ok := present(fields, "sort"); ok {
		if req.Sort, err = decodeSort("sort", raw); err != nil {
			return nil, err
		}
	}
	return req, nil
}

// decodeFilter decodes one filter object. Several keys in one object are
// combined with AND in canonical key order.
func decodeFilter(path string, raw json.RawMessage) (Filter, error) {
	obj, err := decodeObjectWith(path, raw, func(key string) *ValidationError {
		return NewInvalidParameter(path,
			"%s is invalid filter key, should be one of: %s.", key, strings.Join(filterKeys, ", "))
	}, filterKeys)
	if err != nil {
		return nil, err
	}

	var children []Filter
	for _, key := range filterKeys {
		body, ok := obj[key]
		if !ok {
			continue
		}
		child, err := decodeFilterNode(path+"."+key, key, body)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	if len(children) == 1 {
		return children[0], nil
	}
	return And{Children: children}, nil
}

func decodeFilterNode(path, key string, raw json.RawMessage) (Filter, error) {
	switch key {
	case "and", "or":
		items, err := decodeArray(path, raw)
		if err != nil {
			return nil, err
		}
		children := make([]Filter, 0, len(items))
		for i, item := range items {
			child, err := decodeFilter(fmt.Sprintf("%s[%d]", path, i), item)
			if err != nil {
				return nil, err
			}
			children = append(children, child)
		}
		if key == "and" {
			return And{Children: children}, nil
		}
		return Or{Children: children}, nil
	case "in":
		return decodeIn(path, raw)
	case "fragment":
		return decodeFragment(path, raw)
	case "value_fragment":
		f, err := decodeFragment(path, raw)
		if err != nil {
			return nil, err
		}
		return ValueFragment(f), nil
	case "key":
		s, err := decodeExact(path, raw)
		if err != nil {
			return nil, err
		}
		return Key{Value: s}, nil
	case "address":
		s, err := decodeExact(path, raw)
		if err != nil {
			return nil, err
		}
		return Address{Value: s}, nil
	case "value":
		return decodeValue(path, raw)
	}
	return nil, NewInvalidParameter(path, "unsupported filter key %q", key)
}

func decodeFragment(path string, raw json.RawMessage) (KeyFragment, error) {
	obj, err := decodeObject(path, raw, fragmentFields)
	if err != nil {
		return KeyFragment{}, err
	}

	var f KeyFragment
	if f.Position, err = requiredPosition(path, obj); err != nil {
		return KeyFragment{}, err
	}
	if f.Type, err = requiredFragmentType(path, obj); err != nil {
		return KeyFragment{}, err
	}
	if f.Operation, err = optionalOperation(path, obj); err != nil {
		return KeyFragment{}, err
	}
	body, ok := present(obj, "value")
	if !ok {
		return KeyFragment{}, NewMissingParameter(path + ".value")
	}
	if f.Value, err = decodeLiteral(path+".value", body, ""); err != nil {
		return KeyFragment{}, err
	}
	return f, nil
}

func decodeValue(path string, raw json.RawMessage) (Value, error) {
	obj, err := decodeObject(path, raw, []string{"type", "operation", "value"})
	if err != nil {
		return Value{}, err
	}

	var v Value
	if v.Type, err = requiredValueType(path, obj); err != nil {
		return Value{}, err
	}
	if v.Operation, err = optionalOperation(path, obj); err != nil {
		return Value{}, err
	}
	body, ok := present(obj, "value")
	if !ok {
		return Value{}, NewMissingParameter(path + ".value")
	}
	if v.Value, err = decodeLiteral(path+".value", body, v.Type); err != nil {
		return Value{}, err
	}
	return v, nil
}

// decodeExact decodes {"value": "<string>"} used by key and address filters.
func decodeExact(path string, raw json.RawMessage) (string, error) {
	obj, err := decodeObject(path, raw, []string{"value"})
	if err != nil {
		return "", err
	}
	body, ok := present(obj, "value")
	if !ok {
		return "", NewMissingParameter(path + ".value")
	}
	return decodeString(path+".value", body)
}

func decodeIn(path string, raw json.RawMessage) (In, error) {
	obj, err := decodeObject(path, raw, []string{"properties", "values"})
	if err != nil {
		return In{}, err
	}

	propsRaw, ok := present(obj, "properties")
	if !ok {
		return In{}, NewMissingParameter(path + ".properties")
	}
	items, err := decodeArray(path+".properties", propsRaw)
	if err != nil {
		return In{}, err
	}
	in := In{Properties: make([]PropertyRef, 0, len(items))}
	for i, item := range items {
		prop, err := decodeProperty(fmt.Sprintf("%s.properties[%d]", path, i), item)
		if err != nil {
			return In{}, err
		}
		in.Properties = append(in.Properties, prop)
	}

	rowsRaw, ok := present(obj, "values")
	if !ok {
		return In{}, NewMissingParameter(path + ".values")
	}
	rows, err := decodeArray(path+".values", rowsRaw)
	if err != nil {
		return In{}, err
	}
	in.Rows = make([][]entry.Value, 0, len(rows))
	for r, rowRaw := range rows {
		rowPath := fmt.Sprintf("%s.values[%d]", path, r)
		cells, err := decodeArray(rowPath, rowRaw)
		if err != nil {
			return In{}, err
		}
		row := make([]entry.Value, 0, len(cells))
		for c, cell := range cells {
			var hint entry.Type
			if c < len(in.Properties) {
				if vp, ok := in.Properties[c].(ValueProperty); ok {
					hint = vp.Type
				}
			}
			v, err := decodeLiteral(fmt.Sprintf("%s[%d]", rowPath, c), cell, hint)
			if err != nil {
				return In{}, err
			}
			row = append(row, v)
		}
		in.Rows = append(in.Rows, row)
	}
	return in, nil
}

// decodeProperty accepts "key", "address" or a single-key object such as
// {"fragment": {"position": 0, "type": "integer"}} or {"value": {"type": "string"}}.
func decodeProperty(path string, raw json.RawMessage) (PropertyRef, error) {
	if s, err := decodeString(path, raw); err == nil {
		switch s {
		case "key":
			return KeyProperty{}, nil
		case "address":
			return AddressProperty{}, nil
		}
		return nil, NewInvalidParameter(path, "%s is invalid property, should be one of: %s.", s, strings.Join(propertyKeys, ", "))
	}

	key, body, err := decodeSingleKey(path, raw, propertyKeys)
	if err != nil {
		return nil, err
	}
	path = path + "." + key
	switch key {
	case "fragment":
		obj, err := decodeObject(path, body, []string{"position", "type"})
		if err != nil {
			return nil, err
		}
		var p FragmentProperty
		if p.Position, err = requiredPosition(path, obj); err != nil {
			return nil, err
		}
		if p.Type, err = requiredFragmentType(path, obj); err != nil {
			return nil, err
		}
		return p, nil
	case "value":
		obj, err := decodeObject(path, body, []string{"type"})
		if err != nil {
			return nil, err
		}
		t, err := requiredValueType(path, obj)
		if err != nil {
			return nil, err
		}
		return ValueProperty{Type: t}, nil
	case "key":
		if _, err := decodeObject(path, body, nil); err != nil {
			return nil, err
		}
		return KeyProperty{}, nil
	default:
		if _, err := decodeObject(path, body, nil); err != nil {
			return nil, err
		}
		return AddressProperty{}, nil
	}
}

func decodeSort(path string, raw json.RawMessage) ([]SortItem, error) {
	items, err := decodeArray(path, raw)
	if err != nil {
		return nil, err
	}
	out := make([]SortItem, 0, len(items))
	for i, item := range items {
		itemPath := fmt.Sprintf("%s[%d]", path, i)
		key, body, err := decodeSingleKey(itemPath, item, sortKeys)
		if err != nil {
			return nil, err
		}
		itemPath = itemPath + "." + key

		var fields []string
		switch key {
		case "fragment", "value_fragment":
			fields = []string{"position", "type", "direction"}
		case "value":
			fields = []string{"type", "direction"}
		default:
			fields = []string{"direction"}
		}
		obj, err := decodeObject(itemPath, body, fields)
		if err != nil {
			return nil, err
		}
		dir, err := optionalDirection(itemPath, obj)
		if err != nil {
			return nil, err
		}

		switch key {
		case "fragment", "value_fragment":
			s := SortFragment{Direction: dir}
			if s.Position, err = requiredPosition(itemPath, obj); err != nil {
				return nil, err
			}
			if s.Type, err = requiredFragmentType(itemPath, obj); err != nil {
				return nil, err
			}
			if key == "fragment" {
				out = append(out, s)
			} else {
				out = append(out, SortValueFragment(s))
			}
		case "value":
			t, err := requiredValueType(itemPath, obj)
			if err != nil {
				return nil, err
			}
			out = append(out, SortValue{Type: t, Direction: dir})
		case "key":
			out = append(out, SortKey{Direction: dir})
		case "address":
			out = append(out, SortAddress{Direction: dir})
		case "base":
			out = append(out, SortBase{Direction: dir})
		}
	}
	return out, nil
}

// decodeLiteral decodes a typed literal. Strings decode as entry.String
// unless hint is TypeBinary, in which case they are base64 (an optional
// "base64:" prefix is accepted). Arrays of bytes decode as entry.Binary.
func decodeLiteral(path string, raw json.RawMessage, hint entry.Type) (entry.Value, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, NewMissingParameter(path)
	}

	switch raw[0] {
	case '"':
		s, err := decodeString(path, raw)
		if err != nil {
			return nil, err
		}
		if hint != entry.TypeBinary {
			return entry.String(s), nil
		}
		b, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s, "base64:"))
		if err != nil {
			return nil, NewInvalidParameter(path, "Invalid base64 binary value: %v.", err)
		}
		return entry.Binary(b), nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return nil, NewInvalidParameter(path, invalidLiteralReason)
		}
		return entry.Bool(b), nil
	case '[':
		items, err := decodeArray(path, raw)
		if err != nil {
			return nil, err
		}
		b := make([]byte, len(items))
		for i, item := range items {
			n, err := decodeInt(fmt.Sprintf("%s[%d]", path, i), item)
			if err != nil || n < 0 || n > math.MaxUint8 {
				return nil, NewInvalidParameter(fmt.Sprintf("%s[%d]", path, i), "Byte values must be integers between 0 and 255.")
			}
			b[i] = byte(n)
		}
		return entry.Binary(b), nil
	case 'n', '{':
		return nil, NewInvalidParameter(path, invalidLiteralReason)
	default:
		n, err := decodeInt(path, raw)
		if err != nil {
			return nil, err
		}
		return entry.Integer(n), nil
	}
}

func requiredPosition(path string, obj map[string]json.RawMessage) (int, error) {
	raw, ok := present(obj, "position")
	if !ok {
		return 0, NewMissingParameter(path + ".position")
	}
	n, err := decodeInt(path+".position", raw)
	if err != nil {
		return 0, err
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		return 0, positionError(path+".position", n)
	}
	return int(n), nil
}

func requiredFragmentType(path string, obj map[string]json.RawMessage) (FragmentType, error) {
	raw, ok := present(obj, "type")
	if !ok {
		return "", NewMissingParameter(path + ".type")
	}
	s, err := decodeString(path+".type", raw)
	if err != nil {
		return "", err
	}
	t := FragmentType(s)
	if !t.Valid() {
		return "", NewInvalidParameter(path+".type", "%s is invalid fragment type.", s)
	}
	return t, nil
}

func requiredValueType(path string, obj map[string]json.RawMessage) (entry.Type, error) {
	raw, ok := present(obj, "type")
	if !ok {
		return "", NewMissingParameter(path + ".type")
	}
	s, err := decodeString(path+".type", raw)
	if err != nil {
		return "", err
	}
	t, err := entry.ParseType(s)
	if err != nil {
		return "", NewInvalidParameter(path+".type", "%s is invalid value type.", s)
	}
	return t, nil
}

func optionalOperation(path string, obj map[string]json.RawMessage) (Operation, error) {
	raw, ok := present(obj, "operation")
	if !ok {
		return OpEq, nil
	}
	s, err := decodeString(path+".operation", raw)
	if err != nil {
		return "", err
	}
	op := Operation(s)
	if !op.Valid() {
		return "", NewInvalidParameter(path+".operation", "%s is invalid operation.", s)
	}
	return op, nil
}

func optionalDirection(path string, obj map[string]json.RawMessage) (Direction, error) {
	raw, ok := present(obj, "direction")
	if !ok {
		return Asc, nil
	}
	s, err := decodeString(path+".direction", raw)
	if err != nil {
		return "", err
	}
	d := Direction(s)
	if !d.Valid() {
		return "", NewInvalidParameter(path+".direction", "%s is invalid sort direction, should be one of: asc, desc.", s)
	}
	return d, nil
}

// decodeObject decodes a JSON object and rejects keys outside allowed.
func decodeObject(path string, raw json.RawMessage, allowed []string) (map[string]json.RawMessage, error) {
	return decodeObjectWith(path, raw, func(key string) *ValidationError {
		return NewInvalidParameter(path+"."+key, "unknown field, should be one of: %s.", strings.Join(allowed, ", "))
	}, allowed)
}

func decodeObjectWith(path string, raw json.RawMessage, unknown func(string) *ValidationError, allowed []string) (map[string]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, NewInvalidParameter(path, "Invalid %s value, should be an object.", lastSegment(path))
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, NewInvalidParameter(path, "Invalid %s value, should be an object.", lastSegment(path))
	}

	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !contains(allowed, k) {
			return nil, unknown(k)
		}
	}
	return obj, nil
}

// decodeSingleKey decodes an object that must carry exactly one of allowed.
func decodeSingleKey(path string, raw json.RawMessage, allowed []string) (string, json.RawMessage, error) {
	obj, err := decodeObjectWith(path, raw, func(key string) *ValidationError {
		return NewInvalidParameter(path, "%s is invalid key, should be one of: %s.", key, strings.Join(allowed, ", "))
	}, allowed)
	if err != nil {
		return "", nil, err
	}
	if len(obj) != 1 {
		return "", nil, NewInvalidParameter(path, "Exactly one of %s must be set.", strings.Join(allowed, ", "))
	}
	for k, v := range obj {
		return k, v, nil
	}
	return "", nil, nil
}

func decodeArray(path string, raw json.RawMessage) ([]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	var items []json.RawMessage
	if len(raw) == 0 || raw[0] != '[' || json.Unmarshal(raw, &items) != nil {
		return nil, NewInvalidParameter(path, "Invalid %s value, should be an array.", lastSegment(path))
	}
	return items, nil
}

func decodeString(path string, raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	var s string
	if len(raw) == 0 || raw[0] != '"' || json.Unmarshal(raw, &s) != nil {
		return "", NewInvalidParameter(path, "Invalid %s value, should be a string.", lastSegment(path))
	}
	return s, nil
}

func decodeInt(path string, raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if !isNumber(raw) {
		return 0, NewInvalidParameter(path, "Invalid %s value, should be an integer.", lastSegment(path))
	}
	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, NewInvalidParameter(path, "%s is not a valid 64-bit integer.", raw)
	}
	return n, nil
}

func decodeUint(path string, raw json.RawMessage) (uint64, error) {
	raw = bytes.TrimSpace(raw)
	if !isNumber(raw) {
		return 0, NewInvalidParameter(path, "Invalid %s value, should be a non-negative integer.", path)
	}
	n, err := strconv.ParseUint(string(raw), 10, 64)
	if err != nil || n > math.MaxInt64 {
		return 0, NewInvalidParameter(path, "Invalid %s value, should be a non-negative integer.", path)
	}
	return n, nil
}

// present returns the raw field value, treating explicit null as absent.
func present(obj map[string]json.RawMessage, key string) (json.RawMessage, bool) {
	raw, ok := obj[key]
	if !ok {
		return nil, false
	}
	if string(bytes.TrimSpace(raw)) == "null" {
		return nil, false
	}
	return raw, true
}

func isNumber(raw []byte) bool {
	return len(raw) > 0 && (raw[0] == '-' || (raw[0] >= '0' && raw[0] <= '9'))
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// lastSegment returns the last dotted path segment without any index suffix.
func lastSegment(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		path = path[i+1:]
	}
	if i := strings.IndexByte(path, '['); i >= 0 {
		path = path[:i]
	}
	return path
}
