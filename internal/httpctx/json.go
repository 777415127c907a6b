package httpctx

import "encoding/json"

func marshalAny(v any) ([]byte, error) {
	return json.Marshal(v)
}

func unmarshalAny(data []byte, out any) error {
	return json.Unmarshal(data, out)
}
