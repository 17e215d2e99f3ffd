package oauth

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// UserInfo is a claim name to value mapping as decoded from JSON.
type UserInfo map[string]any

// String returns a claim rendered as text, "" when absent.
func (u UserInfo) String(name string) string {
	switch v := u[name].(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// Bool reports a boolean claim. ok is false when the claim is absent or not
// interpretable as a boolean.
func (u UserInfo) Bool(name string) (value, ok bool) {
	switch v := u[name].(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(v)
		return b, err == nil
	}
	return false, false
}

// Merge returns a new UserInfo with the entries of u overlaid by other.
func (u UserInfo) Merge(other UserInfo) UserInfo {
	out := make(UserInfo, len(u)+len(other))
	for k, v := range u {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Clone is a shallow copy.
func (u UserInfo) Clone() UserInfo { return UserInfo(nil).Merge(u) }
