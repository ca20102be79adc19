package store

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// RewritePermissions adjusts an annotation payload's read permissions so
// course administrators can see private annotations:
//
//   - an empty read list means world-readable and is left untouched
//   - replies inherit visibility from their thread root, so a restricted
//     reply has its read list cleared
//   - a restricted root annotation gets its author and the admin group
//     prepended/appended to the read list
//
// The rewrite is idempotent: applying it to an already rewritten payload
// returns an equivalent payload. Payloads that are not JSON objects are
// rejected.
func RewritePermissions(body []byte) ([]byte, error) {
	var data map[string]interface{}
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, fmt.Errorf("malformed annotation payload: %w", err)
	}

	permissions := map[string]interface{}{
		"read":   []interface{}{},
		"admin":  []interface{}{},
		"update": []interface{}{},
		"delete": []interface{}{},
	}
	if existing, ok := data["permissions"].(map[string]interface{}); ok {
		for k, v := range existing {
			permissions[k] = v
		}
	}

	read := stringList(permissions["read"])
	if len(read) == 0 {
		// world readable, nothing to rewrite
		return body, nil
	}

	if hasParent(data) {
		permissions["read"] = []string{}
	} else {
		if userID := payloadUserID(data); userID != "" && !containsString(read, userID) {
			read = append([]string{userID}, read...)
		}
		if !containsString(read, AdminGroupID) {
			read = append(read, AdminGroupID)
		}
		permissions["read"] = read
	}

	data["permissions"] = permissions
	return json.Marshal(data)
}

// hasParent reports whether the payload marks the annotation as a reply.
// A missing, empty or zero parent means a thread root.
func hasParent(data map[string]interface{}) bool {
	switch v := data["parent"].(type) {
	case string:
		return v != "" && v != "0"
	case float64:
		return v != 0
	default:
		return false
	}
}

// payloadUserID extracts the author id from the payload's user object,
// tolerating numeric ids.
func payloadUserID(data map[string]interface{}) string {
	user, ok := data["user"].(map[string]interface{})
	if !ok {
		return ""
	}
	switch v := user["id"].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

func stringList(v interface{}) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			switch s := item.(type) {
			case string:
				out = append(out, s)
			case float64:
				out = append(out, strconv.FormatFloat(s, 'f', -1, 64))
			}
		}
		return out
	default:
		return nil
	}
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
