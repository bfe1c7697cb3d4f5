package database

import (
	"bytes"
	"encoding/json"

	"github.com/pkg/errors"
)

// JSONCodec is a BodyCodec of JSON objects.
type JSONCodec struct{}

// Parse a JSON object. An empty body parses as an empty object.
func (JSONCodec) Parse(body []byte) (map[string]interface{}, error) {
	var out = make(map[string]interface{})
	if len(bytes.TrimSpace(body)) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, errors.WithMessage(err, "parsing document body")
	}
	return out, nil
}

// Serialize properties as a JSON object.
func (JSONCodec) Serialize(props map[string]interface{}) ([]byte, error) {
	var b, err = json.Marshal(props)
	if err != nil {
		return nil, errors.WithMessage(err, "serializing document body")
	}
	return b, nil
}
