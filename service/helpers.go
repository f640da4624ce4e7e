package service

// deepCopyValue copies nested maps and slices so that an ingested raw log is
// not shared with the caller. Scalars are returned as is.
func deepCopyValue(v interface{}) interface{} {
	if v == nil {
		return nil
	}

	switch val := v.(type) {
	case map[string]interface{}:
		result := make(map[string]interface{}, len(val))
		for k, v := range val {
			result[k] = deepCopyValue(v)
		}
		return result

	case []interface{}:
		result := make([]interface{}, len(val))
		for i, v := range val {
			result[i] = deepCopyValue(v)
		}
		return result

	default:
		return val
	}
}

// copyRawLog returns an independent copy of a raw log; nil becomes empty.
func copyRawLog(raw map[string]interface{}) map[string]interface{} {
	if raw == nil {
		return map[string]interface{}{}
	}
	return deepCopyValue(raw).(map[string]interface{})
}
