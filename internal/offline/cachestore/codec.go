package cachestore

import (
	"encoding/json"
	"fmt"
)

func encodeEntry(entry *Entry) ([]byte, error) {
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, fmt.Errorf("marshaling cache entry: %w", err)
	}
	return data, nil
}

func decodeEntry(data []byte) (*Entry, error) {
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("unmarshaling cache entry: %w", err)
	}
	return &entry, nil
}
