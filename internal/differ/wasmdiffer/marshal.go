package wasmdiffer

import "encoding/json"

func marshalOne(doc any) ([]byte, error) {
	if doc == nil {
		return []byte("null"), nil
	}
	return json.Marshal(doc)
}

func marshalPair(a, b any) ([]byte, []byte, error) {
	aj, err := marshalOne(a)
	if err != nil {
		return nil, nil, err
	}
	bj, err := marshalOne(b)
	if err != nil {
		return nil, nil, err
	}
	return aj, bj, nil
}

func unmarshalDoc(b []byte) (any, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}
