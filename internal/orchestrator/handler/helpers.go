package handler

import "crucible/internal/model"

// metaString pulls a string input from the operation metadata
func metaString(op *model.Operation, key string) string {
	if op.Metadata == nil {
		return ""
	}
	if v, ok := op.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// metaInt pulls an integer input from the operation metadata. JSON decoding
// yields float64, so both forms are accepted.
func metaInt(op *model.Operation, key string) int {
	if op.Metadata == nil {
		return 0
	}
	switch v := op.Metadata[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

// metaStringSlice pulls a list of strings from the operation metadata
func metaStringSlice(op *model.Operation, key string) []string {
	if op.Metadata == nil {
		return nil
	}
	switch v := op.Metadata[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
