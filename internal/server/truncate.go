package server

import (
	"encoding/json"
	"sort"
)

const (
	maxPayloadSize   = 512 * 1024
	maxArrayElements = 10
)

type truncationInfo struct {
	OriginalCount int `json:"original_count"`
	Kept          int `json:"kept"`
}

// truncatePayload shortens oversized payloads before fan-out by cutting every
// top-level array to maxArrayElements and recording what was cut under
// "_truncated". It returns the names of the cut fields, sorted. Payloads that
// are small, not JSON objects, or have nothing to cut pass through untouched.
func truncatePayload(body json.RawMessage) (json.RawMessage, []string, error) {
	if len(body) <= maxPayloadSize {
		return body, nil, nil
	}

	var payload map[string]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return body, nil, err
	}

	truncations := make(map[string]truncationInfo)
	for key, value := range payload {
		if len(value) == 0 || value[0] != '[' {
			continue
		}

		var elements []json.RawMessage
		if err := json.Unmarshal(value, &elements); err != nil {
			continue
		}
		if len(elements) <= maxArrayElements {
			continue
		}

		kept, err := json.Marshal(elements[:maxArrayElements])
		if err != nil {
			return body, nil, err
		}
		payload[key] = kept
		truncations[key] = truncationInfo{OriginalCount: len(elements), Kept: maxArrayElements}
	}

	if len(truncations) == 0 {
		return body, nil, nil
	}

	marker, err := json.Marshal(truncations)
	if err != nil {
		return body, nil, err
	}
	payload["_truncated"] = marker

	encoded, err := json.Marshal(payload)
	if err != nil {
		return body, nil, err
	}

	fields := make([]string, 0, len(truncations))
	for key := range truncations {
		fields = append(fields, key)
	}
	sort.Strings(fields)
	return encoded, fields, nil
}
