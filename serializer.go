package grantd

import (
	"encoding/json"
	"fmt"
)

// GrantSerializer converts typed grant payloads to and from the opaque string
// stored in a grant record.
type GrantSerializer interface {
	Serialize(item any) (string, error)
	Deserialize(data string, item any) error
}

// JSONSerializer is the default GrantSerializer, storing payloads as JSON.
type JSONSerializer struct{}

func (JSONSerializer) Serialize(item any) (string, error) {
	data, err := json.Marshal(item)
	if err != nil {
		return "", fmt.Errorf("failed to serialize grant payload: %w", err)
	}
	return string(data), nil
}

func (JSONSerializer) Deserialize(data string, item any) error {
	if err := json.Unmarshal([]byte(data), item); err != nil {
		return fmt.Errorf("failed to deserialize grant payload: %w", err)
	}
	return nil
}
