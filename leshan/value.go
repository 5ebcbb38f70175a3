package leshan

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"leshan2mqtt/lwm2m"
)

// ValueType is the data type of a resource value on the wire.
type ValueType string

const (
	TypeString  ValueType = "string"
	TypeInteger ValueType = "integer"
	TypeFloat   ValueType = "float"
	TypeBoolean ValueType = "boolean"
	TypeOpaque  ValueType = "opaque"
	TypeTime    ValueType = "time"
	TypeObjlnk  ValueType = "objlnk"
)

// ResourceValue is a single resource as read from, or written to, the server.
// Value holds bool, int64, float64 or string depending on Type. Values are
// never mutated in place; every read produces a fresh value.
type ResourceValue struct {
	ID    lwm2m.ResourceID
	Type  ValueType
	Value any
}

// Boolean returns a boolean resource value for writing.
func Boolean(id lwm2m.ResourceID, v bool) ResourceValue {
	return ResourceValue{ID: id, Type: TypeBoolean, Value: v}
}

// Integer returns an integer resource value for writing.
func Integer(id lwm2m.ResourceID, v int) ResourceValue {
	return ResourceValue{ID: id, Type: TypeInteger, Value: int64(v)}
}

// String returns a string resource value for writing.
func String(id lwm2m.ResourceID, v string) ResourceValue {
	return ResourceValue{ID: id, Type: TypeString, Value: v}
}

// Bool returns the value as a boolean. The second return is false when the
// value does not hold a boolean.
func (v ResourceValue) Bool() (bool, bool) {
	b, ok := v.Value.(bool)
	return b, ok
}

// Int returns the value as an integer. Float values are truncated. The second
// return is false when the value holds no number.
func (v ResourceValue) Int() (int, bool) {
	switch n := v.Value.(type) {
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

// Text returns the value as a string. The second return is false when the
// value does not hold a string.
func (v ResourceValue) Text() (string, bool) {
	s, ok := v.Value.(string)
	return s, ok
}

func (v ResourceValue) String() string {
	return fmt.Sprintf("/%d=%v (%v)", v.ID, v.Value, v.Type)
}

// resourceNode is the wire shape of a single resource in read responses and
// observation notifications.
type resourceNode struct {
	ID    uint16          `json:"id"`
	Kind  string          `json:"kind,omitempty"`
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

// instanceNode is the wire shape of an object instance in read responses.
type instanceNode struct {
	ID        uint16         `json:"id"`
	Resources []resourceNode `json:"resources"`
}

// decodeValue converts a wire resource node into a ResourceValue. The server
// serializes most values as JSON strings regardless of their declared type,
// so decoding goes through the declared type rather than the JSON type.
func decodeValue(n resourceNode) (ResourceValue, error) {
	typ := ValueType(strings.ToLower(n.Type))
	rv := ResourceValue{ID: lwm2m.ResourceID(n.ID), Type: typ}

	var raw any
	if len(n.Value) > 0 {
		dec := json.NewDecoder(strings.NewReader(string(n.Value)))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return rv, fmt.Errorf("malformed value for resource %d: %w", n.ID, err)
		}
	}

	switch typ {
	case TypeBoolean:
		switch x := raw.(type) {
		case bool:
			rv.Value = x
		case string:
			b, err := strconv.ParseBool(x)
			if err != nil {
				return rv, fmt.Errorf("resource %d: %q is not a boolean", n.ID, x)
			}
			rv.Value = b
		default:
			return rv, fmt.Errorf("resource %d: %T is not a boolean", n.ID, raw)
		}
	case TypeInteger, TypeTime:
		switch x := raw.(type) {
		case json.Number:
			i, err := x.Int64()
			if err != nil {
				return rv, fmt.Errorf("resource %d: %w", n.ID, err)
			}
			rv.Value = i
		case string:
			i, err := strconv.ParseInt(x, 10, 64)
			if err != nil {
				return rv, fmt.Errorf("resource %d: %q is not an integer", n.ID, x)
			}
			rv.Value = i
		default:
			return rv, fmt.Errorf("resource %d: %T is not an integer", n.ID, raw)
		}
	case TypeFloat:
		switch x := raw.(type) {
		case json.Number:
			f, err := x.Float64()
			if err != nil {
				return rv, fmt.Errorf("resource %d: %w", n.ID, err)
			}
			rv.Value = f
		case string:
			f, err := strconv.ParseFloat(x, 64)
			if err != nil {
				return rv, fmt.Errorf("resource %d: %q is not a float", n.ID, x)
			}
			rv.Value = f
		default:
			return rv, fmt.Errorf("resource %d: %T is not a float", n.ID, raw)
		}
	default:
		// string, opaque, objlnk and anything unknown stay textual
		switch x := raw.(type) {
		case string:
			rv.Value = x
		case nil:
			rv.Value = ""
		default:
			rv.Value = fmt.Sprintf("%v", x)
		}
	}
	return rv, nil
}

// writeResource is the wire shape of a resource in write requests.
type writeResource struct {
	ID    uint16    `json:"id"`
	Kind  string    `json:"kind"`
	Type  ValueType `json:"type"`
	Value any       `json:"value"`
}

// writeRequest is the body of an instance write. The server expects a full
// instance node even when only some resources are written.
type writeRequest struct {
	ID        uint16          `json:"id"`
	Kind      string          `json:"kind"`
	Resources []writeResource `json:"resources"`
}

func newWriteRequest(instance lwm2m.InstanceID, values []ResourceValue) writeRequest {
	req := writeRequest{
		ID:        uint16(instance),
		Kind:      "instance",
		Resources: make([]writeResource, 0, len(values)),
	}
	for _, v := range values {
		req.Resources = append(req.Resources, writeResource{
			ID:    uint16(v.ID),
			Kind:  "singleResource",
			Type:  v.Type,
			Value: v.Value,
		})
	}
	return req
}
