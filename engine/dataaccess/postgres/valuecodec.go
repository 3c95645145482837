package postgres

import (
	"encoding/json"
	"fmt"

	"github.com/powelleric/cromwell/engine/core"
)

// jsonValue is the storage-row shape of a core.Value. Array/Map values nest
// their elements as further jsonValue objects rather than bare JSON values,
// so decoding can rebuild a proper []core.Value / map[string]core.Value tree
// instead of leaving child elements as untyped interface{}.
type jsonValue struct {
	Type core.Type `json:"type"`
	Raw  any       `json:"raw"`
}

func encodeValue(v *core.Value) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	jv, err := valueToJSON(*v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(jv)
}

func valueToJSON(v core.Value) (jsonValue, error) {
	switch v.Type {
	case core.TypeArray:
		arr, err := v.Array()
		if err != nil {
			return jsonValue{}, err
		}
		encoded := make([]jsonValue, len(arr))
		for i, elem := range arr {
			enc, err := valueToJSON(elem)
			if err != nil {
				return jsonValue{}, fmt.Errorf("encoding array element %d: %w", i, err)
			}
			encoded[i] = enc
		}
		return jsonValue{Type: v.Type, Raw: encoded}, nil
	case core.TypeMap:
		m, err := v.MapVal()
		if err != nil {
			return jsonValue{}, err
		}
		encoded := make(map[string]jsonValue, len(m))
		for k, elem := range m {
			enc, err := valueToJSON(elem)
			if err != nil {
				return jsonValue{}, fmt.Errorf("encoding map field %q: %w", k, err)
			}
			encoded[k] = enc
		}
		return jsonValue{Type: v.Type, Raw: encoded}, nil
	default:
		return jsonValue{Type: v.Type, Raw: v.Raw}, nil
	}
}

func decodeValue(raw []byte) (*core.Value, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var jv jsonValue
	if err := json.Unmarshal(raw, &jv); err != nil {
		return nil, fmt.Errorf("decoding stored value: %w", err)
	}
	v, err := jsonToValue(jv)
	if err != nil {
		return nil, fmt.Errorf("decoding stored value: %w", err)
	}
	return &v, nil
}

func jsonToValue(jv jsonValue) (core.Value, error) {
	switch jv.Type {
	case core.TypeInt:
		// encoding/json always decodes JSON numbers as float64; Int values
		// need converting back before the core.Value's Raw type assertions
		// hold.
		if f, ok := jv.Raw.(float64); ok {
			return core.Value{Type: jv.Type, Raw: int64(f)}, nil
		}
		return core.Value{Type: jv.Type, Raw: jv.Raw}, nil
	case core.TypeArray:
		items, ok := jv.Raw.([]any)
		if !ok {
			return core.Value{}, fmt.Errorf("decoding stored array: unexpected representation %T", jv.Raw)
		}
		out := make([]core.Value, len(items))
		for i, item := range items {
			sub, err := decodeJSONElement(item)
			if err != nil {
				return core.Value{}, fmt.Errorf("decoding array element %d: %w", i, err)
			}
			out[i] = sub
		}
		return core.Value{Type: jv.Type, Raw: out}, nil
	case core.TypeMap:
		fields, ok := jv.Raw.(map[string]any)
		if !ok {
			return core.Value{}, fmt.Errorf("decoding stored map: unexpected representation %T", jv.Raw)
		}
		out := make(map[string]core.Value, len(fields))
		for k, item := range fields {
			sub, err := decodeJSONElement(item)
			if err != nil {
				return core.Value{}, fmt.Errorf("decoding map field %q: %w", k, err)
			}
			out[k] = sub
		}
		return core.Value{Type: jv.Type, Raw: out}, nil
	default:
		return core.Value{Type: jv.Type, Raw: jv.Raw}, nil
	}
}

// decodeJSONElement re-decodes a nested array/map element, which arrives
// from the outer json.Unmarshal as an untyped map[string]interface{} rather
// than a jsonValue, back into a jsonValue so jsonToValue can recurse.
func decodeJSONElement(raw any) (core.Value, error) {
	b, err := json.Marshal(raw)
	if err != nil {
		return core.Value{}, err
	}
	var jv jsonValue
	if err := json.Unmarshal(b, &jv); err != nil {
		return core.Value{}, err
	}
	return jsonToValue(jv)
}
