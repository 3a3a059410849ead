// Package fieldcrypt encrypts and decrypts Active Table records field by
// field. It turns plaintext records into the wire payload
// {record, hashed_keywords, record_hashes} and decrypts record pages
// fetched from the store, tolerating per-field failures.
package fieldcrypt

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/celerix-dev/celerix-tablecrypt/internal/vault"
	"github.com/celerix-dev/celerix-tablecrypt/pkg/schema"
	"github.com/grailbio/base/errors"
)

// FieldError records the failure to decode one field of a record.
type FieldError struct {
	Field string
	Err   error
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %q: %v", e.Field, e.Err)
}

// Stringify returns the canonical string form of a scalar value.
func Stringify(v any) (string, error) {
	switch v := v.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int:
		return strconv.FormatInt(int64(v), 10), nil
	case int32:
		return strconv.FormatInt(int64(v), 10), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(v), 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case json.Number:
		return v.String(), nil
	case fmt.Stringer:
		return v.String(), nil
	}
	return "", errors.E(errors.Invalid, fmt.Sprintf("fieldcrypt: unsupported scalar %T", v))
}

// stringList converts an array-shaped value to its element strings. A
// lone scalar is treated as a one-element list.
func stringList(v any) ([]string, error) {
	switch v := v.(type) {
	case []string:
		return v, nil
	case []any:
		out := make([]string, len(v))
		for i, e := range v {
			s, err := Stringify(e)
			if err != nil {
				return nil, err
			}
			out[i] = s
		}
		return out, nil
	}
	s, err := Stringify(v)
	if err != nil {
		return nil, err
	}
	return []string{s}, nil
}

func isList(v any) bool {
	switch v.(type) {
	case []string, []any:
		return true
	}
	return false
}

// EncryptField returns the wire value of raw for a field of type ft. The
// boolean result is false when raw is empty: empty values are never
// encrypted and the field must be left out of the payload. Reference
// values are returned unchanged.
func EncryptField(ft schema.FieldType, raw any, key *vault.Key) (any, bool, error) {
	if !ft.Valid() {
		return nil, false, errors.E(errors.Invalid, fmt.Sprintf("fieldcrypt: unknown field type %q", ft))
	}
	if schema.IsEmpty(raw) {
		return nil, false, nil
	}
	if !ft.Encrypted() {
		return raw, true, nil
	}
	if key == nil {
		return nil, false, vault.ErrMissingKey
	}
	if ft.Shape() == schema.ShapeArray {
		elems, err := stringList(raw)
		if err != nil {
			return nil, false, err
		}
		out := make([]string, len(elems))
		for i, e := range elems {
			if out[i], err = vault.Encrypt(e, key); err != nil {
				return nil, false, err
			}
		}
		return out, true, nil
	}
	if isList(raw) {
		return nil, false, errors.E(errors.Invalid, fmt.Sprintf("fieldcrypt: %s field cannot hold a list", ft))
	}
	s, err := Stringify(raw)
	if err != nil {
		return nil, false, err
	}
	// Only values that decode back to the field's shape are stored.
	if _, err := coerce(ft, s); err != nil {
		return nil, false, errors.E(errors.Invalid, fmt.Sprintf("fieldcrypt: invalid %s value %q", ft, s))
	}
	ct, err := vault.Encrypt(s, key)
	if err != nil {
		return nil, false, err
	}
	return ct, true, nil
}

// DecryptField inverts EncryptField and coerces the plaintext back to
// the field's shape: INTEGER to int64, NUMERIC to float64,
// CHECKBOX_YES_NO to bool and list types to []string. Dates and times
// stay strings.
func DecryptField(ft schema.FieldType, ciphertext any, key *vault.Key) (any, error) {
	return decryptField(ft, ciphertext, func(ct string) (string, error) {
		return vault.Decrypt(ct, key)
	})
}

// decryptField does the shape handling of DecryptField with open
// supplying the plaintext of each ciphertext string.
func decryptField(ft schema.FieldType, ciphertext any, open func(string) (string, error)) (any, error) {
	if !ft.Encrypted() || schema.IsEmpty(ciphertext) {
		return ciphertext, nil
	}
	if ft.Shape() == schema.ShapeArray {
		elems, ok := ciphertextList(ciphertext)
		if !ok {
			return nil, errors.E(errors.Integrity, fmt.Sprintf("fieldcrypt: %s ciphertext must be a list of strings", ft))
		}
		out := make([]string, len(elems))
		for i, ct := range elems {
			pt, err := open(ct)
			if err != nil {
				return nil, err
			}
			out[i] = pt
		}
		return out, nil
	}
	ct, ok := ciphertext.(string)
	if !ok {
		return nil, errors.E(errors.Integrity, fmt.Sprintf("fieldcrypt: %s ciphertext must be a string, got %T", ft, ciphertext))
	}
	pt, err := open(ct)
	if err != nil {
		return nil, err
	}
	return coerce(ft, pt)
}

func ciphertextList(v any) ([]string, bool) {
	switch v := v.(type) {
	case []string:
		return v, true
	case []any:
		out := make([]string, len(v))
		for i, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, false
			}
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

func coerce(ft schema.FieldType, s string) (any, error) {
	switch ft.Shape() {
	case schema.ShapeInteger:
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		// Integers written by clients that only have floats, e.g. "42.0".
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return nil, errors.E(errors.Integrity, fmt.Sprintf("fieldcrypt: %q is not an integer", s))
		}
		return int64(f), nil
	case schema.ShapeNumber:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, errors.E(errors.Integrity, fmt.Sprintf("fieldcrypt: %q is not a number", s))
		}
		return f, nil
	case schema.ShapeBoolean:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, errors.E(errors.Integrity, fmt.Sprintf("fieldcrypt: %q is not a boolean", s))
		}
		return b, nil
	}
	return s, nil
}
