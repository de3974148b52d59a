// Package json provides JSON encoding helpers backed by bytedance/sonic.
// All packages in this module should import this instead of encoding/json
// so the codec can be swapped in one place.
package json

import "github.com/bytedance/sonic"

// Marshal encodes v as compact JSON.
func Marshal(v any) ([]byte, error) {
	return sonic.Marshal(v)
}

// Unmarshal decodes data into v.
func Unmarshal(data []byte, v any) error {
	return sonic.Unmarshal(data, v)
}

// MarshalIndent encodes v with the given prefix and indentation.
func MarshalIndent(v any, prefix, indent string) ([]byte, error) {
	return sonic.MarshalIndent(v, prefix, indent)
}

// MarshalString encodes v and returns the result as a string.
func MarshalString(v any) (string, error) {
	return sonic.MarshalString(v)
}
