package document

import "strings"

// RedactionMarker replaces the value of every secret-looking key before a
// record leaves the server.
const RedactionMarker = "[REDACTED]"

var secretKeywords = []string{"password", "pwd", "secret"}

// IsSecretKey reports whether a field name looks like it holds a secret.
func IsSecretKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range secretKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// IsPasswordKey reports whether a field name holds a password that must be
// hashed before it is stored.
func IsPasswordKey(key string) bool {
	return strings.Contains(strings.ToLower(key), "password")
}

// Redact walks doc depth-first (through nested objects and arrays) and
// replaces the value of every secret key with RedactionMarker. doc is
// modified in place and returned.
func Redact(doc map[string]any) map[string]any {
	for k, v := range doc {
		if IsSecretKey(k) {
			doc[k] = RedactionMarker
			continue
		}
		redactValue(v)
	}
	return doc
}

func redactValue(v any) {
	switch val := v.(type) {
	case map[string]any:
		Redact(val)
	case []any:
		for _, item := range val {
			redactValue(item)
		}
	case []map[string]any:
		for _, item := range val {
			Redact(item)
		}
	}
}

// TransformKeys applies fn to every value whose key satisfies match, at any
// depth. It is used to hash password fields before persistence. The first
// error aborts the walk.
func TransformKeys(doc map[string]any, match func(string) bool, fn func(any) (any, error)) error {
	for k, v := range doc {
		if match(k) {
			if v == nil {
				continue
			}
			nv, err := fn(v)
			if err != nil {
				return err
			}
			doc[k] = nv
			continue
		}
		if err := transformValue(v, match, fn); err != nil {
			return err
		}
	}
	return nil
}

func transformValue(v any, match func(string) bool, fn func(any) (any, error)) error {
	switch val := v.(type) {
	case map[string]any:
		return TransformKeys(val, match, fn)
	case []any:
		for _, item := range val {
			if err := transformValue(item, match, fn); err != nil {
				return err
			}
		}
	}
	return nil
}

// ContainsKey reports whether any key at any depth satisfies match.
func ContainsKey(doc map[string]any, match func(string) bool) bool {
	for k, v := range doc {
		if match(k) {
			return true
		}
		switch val := v.(type) {
		case map[string]any:
			if ContainsKey(val, match) {
				return true
			}
		case []any:
			for _, item := range val {
				if m, ok := item.(map[string]any); ok && ContainsKey(m, match) {
					return true
				}
			}
		}
	}
	return false
}
