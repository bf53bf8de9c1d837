package endpoint

import (
	"encoding"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
)

// defaultFieldLimit caps a decoded value when no maxLength tag is given.
var defaultFieldLimit = 4 * 1024

// Unmarshal populates dst, a non-nil pointer to a struct, from the request.
//
// Fields are bound with source tags, checked in this order:
//
//	path:"name"    r.PathValue
//	query:"name"   URL query
//	form:"name"    url-encoded POST body (and query)
//	header:"name"  request header
//	cookie:"name"  request cookie
//
// The first source with a value wins. A tag name of "-" skips the field and
// an empty name uses the lower-cased field name. `maxLength:"n"` overrides
// the per-value limit; "0" disables it. Supported field kinds are string,
// bool, integers, encoding.TextUnmarshaler and slices of those.
func Unmarshal(r *http.Request, dst any) error {
	if r == nil {
		return Error(http.StatusInternalServerError, "", errors.New("endpoint: decode: nil request"))
	}
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return Error(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must be a non-nil pointer"))
	}
	root := v.Elem()
	if root.Kind() == reflect.Pointer {
		if root.IsNil() {
			root.Set(reflect.New(root.Type().Elem()))
		}
		root = root.Elem()
	}
	if root.Kind() != reflect.Struct {
		return Error(http.StatusInternalServerError, "", errors.New("endpoint: decode: dst must point to a struct"))
	}
	if root.NumField() == 0 {
		return nil
	}
	return unmarshalStruct(newSources(r), root)
}

var sourceOrder = []string{"path", "query", "form", "header", "cookie"}

type sources struct {
	r     *http.Request
	query map[string][]string
	form  map[string][]string
}

func newSources(r *http.Request) *sources {
	s := &sources{r: r}
	if r.URL != nil {
		s.query = r.URL.Query()
	}
	return s
}

func (s *sources) lookup(source, name string) ([]string, error) {
	switch source {
	case "path":
		if v := s.r.PathValue(name); v != "" {
			return []string{v}, nil
		}
	case "query":
		return s.query[name], nil
	case "form":
		if s.form == nil {
			if err := s.r.ParseForm(); err != nil {
				return nil, Error(http.StatusBadRequest, "", fmt.Errorf("parse form: %w", err))
			}
			s.form = s.r.Form
		}
		return s.form[name], nil
	case "header":
		return s.r.Header[http.CanonicalHeaderKey(name)], nil
	case "cookie":
		var out []string
		for _, c := range s.r.Cookies() {
			if c.Name == name {
				out = append(out, c.Value)
			}
		}
		return out, nil
	}
	return nil, nil
}

func unmarshalStruct(s *sources, sv reflect.Value) error {
	t := sv.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		fv := sv.Field(i)

		tagged := false
		skip := false
		for _, src := range sourceOrder {
			if name, ok := sf.Tag.Lookup(src); ok {
				tagged = true
				skip = skip || name == "-"
			}
		}
		if skip {
			continue
		}
		if !tagged {
			if sf.Type.Kind() == reflect.Struct && !isTextUnmarshaler(fv) {
				if err := unmarshalStruct(s, fv); err != nil {
					return err
				}
			}
			continue
		}

		limit, err := fieldLengthLimit(sf)
		if err != nil {
			return Error(http.StatusInternalServerError, "", fmt.Errorf("endpoint: decode: field %s: %w", sf.Name, err))
		}
		for _, src := range sourceOrder {
			name, ok := sf.Tag.Lookup(src)
			if !ok {
				continue
			}
			if name = strings.TrimSpace(name); name == "" {
				name = strings.ToLower(sf.Name)
			}
			vals, err := s.lookup(src, name)
			if err != nil {
				return err
			}
			if len(vals) == 0 {
				continue
			}
			for _, v := range vals {
				if limit > 0 && len(v) > limit {
					return Error(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: %s %q exceeds max length %d", src, name, limit))
				}
			}
			if err := setField(fv, vals); err != nil {
				return Error(http.StatusBadRequest, "", fmt.Errorf("endpoint: decode: %s %q -> %s: %w", src, name, sf.Name, err))
			}
			break
		}
	}
	return nil
}

func fieldLengthLimit(sf reflect.StructField) (int, error) {
	val, ok := sf.Tag.Lookup("maxLength")
	if !ok {
		return defaultFieldLimit, nil
	}
	if val = strings.TrimSpace(val); val == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("maxLength: invalid integer %q", val)
	}
	if n < 0 {
		return 0, errors.New("maxLength: must be >= 0")
	}
	return n, nil
}

func isTextUnmarshaler(v reflect.Value) bool {
	if v.CanAddr() {
		if _, ok := v.Addr().Interface().(encoding.TextUnmarshaler); ok {
			return true
		}
	}
	_, ok := v.Interface().(encoding.TextUnmarshaler)
	return ok
}

func setField(v reflect.Value, vals []string) error {
	if v.Kind() == reflect.Slice && !isTextUnmarshaler(v) {
		out := reflect.MakeSlice(v.Type(), len(vals), len(vals))
		for i, s := range vals {
			if err := setScalar(out.Index(i), s); err != nil {
				return err
			}
		}
		v.Set(out)
		return nil
	}
	return setScalar(v, vals[0])
}

func setScalar(v reflect.Value, s string) error {
	if v.Kind() == reflect.Pointer {
		if v.IsNil() {
			v.Set(reflect.New(v.Type().Elem()))
		}
		return setScalar(v.Elem(), s)
	}
	if v.CanAddr() {
		if u, ok := v.Addr().Interface().(encoding.TextUnmarshaler); ok {
			return u.UnmarshalText([]byte(s))
		}
	}
	switch v.Kind() {
	case reflect.String:
		v.SetString(s)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return err
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, v.Type().Bits())
		if err != nil {
			return err
		}
		v.SetUint(n)
	default:
		return fmt.Errorf("unsupported kind %s", v.Kind())
	}
	return nil
}
