package provider

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mnehpets/cookieauth/session"
)

// Mapper converts a decoded user-info document to a UserInfo. A returned
// error means the document does not have the expected shape.
type Mapper func(raw map[string]any) (*session.UserInfo, error)

// Fields names the document keys a FieldMapper reads.
type Fields struct {
	UserID string
	Email  string
	Name   string
	Avatar string
	// Extras are copied into UserInfo.Extras when present.
	Extras []string
	// Optional lists keys among UserID/Email/Name that may be absent.
	Optional []string
}

// FieldMapper builds a Mapper from top-level field names.
func FieldMapper(f Fields) Mapper {
	optional := map[string]bool{}
	for _, k := range f.Optional {
		optional[k] = true
	}
	return func(raw map[string]any) (*session.UserInfo, error) {
		info := &session.UserInfo{}
		for _, req := range []struct {
			key string
			dst *string
		}{
			{f.UserID, &info.UserID},
			{f.Email, &info.Email},
			{f.Name, &info.Name},
		} {
			if req.key == "" {
				continue
			}
			v, ok := scalar(raw[req.key])
			if !ok && !optional[req.key] {
				return nil, fmt.Errorf("missing or invalid field %q", req.key)
			}
			*req.dst = v
		}
		if info.UserID == "" {
			return nil, fmt.Errorf("empty user id field %q", f.UserID)
		}
		if f.Avatar != "" {
			info.Avatar, _ = scalar(raw[f.Avatar])
		}
		for _, k := range f.Extras {
			v, ok := raw[k]
			if !ok || v == nil {
				continue
			}
			if info.Extras == nil {
				info.Extras = map[string]any{}
			}
			info.Extras[k] = plain(v)
		}
		return info, nil
	}
}

// DefaultMapper reads OpenID Connect standard claim names.
var DefaultMapper = FieldMapper(Fields{
	UserID:   "sub",
	Email:    "email",
	Name:     "name",
	Avatar:   "picture",
	Extras:   []string{"email_verified", "locale", "given_name", "family_name"},
	Optional: []string{"name"},
})

// scalar renders strings, numbers and booleans as a string.
func scalar(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	}
	return "", false
}

// plain replaces json.Number values with int64 or float64.
func plain(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = plain(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = plain(e)
		}
		return out
	}
	return v
}
