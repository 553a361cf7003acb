package utils

import (
	"github.com/bytedance/sonic"
)

// ToDocument flattens a struct into the map form the storage layer works
// with, honoring json tags.
func ToDocument(v interface{}) (map[string]interface{}, error) {
	data, err := sonic.ConfigDefault.Marshal(v)
	if err != nil {
		return nil, err
	}

	doc := make(map[string]interface{})
	if err := sonic.ConfigDefault.Unmarshal(data, &doc); err != nil {
		return nil, err
	}

	return doc, nil
}

// FromDocument decodes a storage document back into a typed struct.
func FromDocument[T any](doc map[string]interface{}, target *T) error {
	return UnmarshalConfig(doc, target)
}
