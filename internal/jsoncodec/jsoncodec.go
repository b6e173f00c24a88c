// Package jsoncodec defines the JSON collaborator used for columns and
// parameters flagged `json`.
package jsoncodec

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Codec serializes JSON-flagged values to and from their text column form.
type Codec interface {
	Marshal(v any) (string, error)
	Unmarshal(data string, v any) error
}

// GoJSON is the default Codec backed by goccy/go-json.
type GoJSON struct{}

// Default is the codec used when none is configured.
var Default Codec = GoJSON{}

func (GoJSON) Marshal(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("jsoncodec: marshal %T: %w", v, err)
	}
	return string(b), nil
}

func (GoJSON) Unmarshal(data string, v any) error {
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("jsoncodec: unmarshal into %T: %w", v, err)
	}
	return nil
}
