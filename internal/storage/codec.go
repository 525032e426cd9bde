package storage

import (
	"encoding/json"

	"github.com/kasuboski/watchstate/internal/state"
)

// Go's encoding/json always emits map keys in sorted order, which is
// exactly the canonical-JSON requirement spec.md §4.1 asks for — no custom
// marshaler needed for guids/parent/metadata/extra.

func marshalStringMap(m map[string]string) ([]byte, error) {
	if m == nil {
		m = map[string]string{}
	}
	return json.Marshal(m)
}

func marshalMetadata(m map[string]state.BackendMetadata) ([]byte, error) {
	if m == nil {
		m = map[string]state.BackendMetadata{}
	}
	return json.Marshal(m)
}

func unmarshalStringMap(raw []byte) (map[string]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func unmarshalMetadata(raw []byte) (map[string]state.BackendMetadata, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var m map[string]state.BackendMetadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
