// Copyright (C) 2025 Storj Labs, Inc.
// See LICENSE for copying information.

package kinto

import "encoding/json"

// Item is one publishable unit: record data, permissions, or both.
type Item struct {
	Data        map[string]any
	Permissions map[string]any
}

// ParseItem decodes one input line into an Item. Lines carry a JSON
// object with a data attribute, a permissions attribute (the legacy
// singular spelling is accepted too), or both; anything else is
// rejected.
func ParseItem(line []byte) (Item, error) {
	var parsed struct {
		Data        map[string]any `json:"data"`
		Permissions map[string]any `json:"permissions"`
		Permission  map[string]any `json:"permission"`
	}
	if err := json.Unmarshal(line, &parsed); err != nil {
		return Item{}, Error.New("invalid record: %v", err)
	}
	if parsed.Permissions == nil {
		parsed.Permissions = parsed.Permission
	}
	if parsed.Data == nil && parsed.Permissions == nil {
		return Item{}, Error.New("invalid record: missing data attribute")
	}
	return Item{Data: parsed.Data, Permissions: parsed.Permissions}, nil
}
