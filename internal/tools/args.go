package tools

import (
	"fmt"

	"github.com/timetrail/timetrail/internal/temporal"
)

// Argument coercion for JSON-decoded tool arguments. Numbers arrive as
// float64, everything else as the obvious Go type; shape violations are
// ValidationErrors.

func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", &temporal.ValidationError{Field: key, Msg: "required argument missing"}
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", &temporal.ValidationError{Field: key, Msg: "must be a non-empty string"}
	}
	return s, nil
}

func optStringArg(args map[string]any, key, def string) (string, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	s, ok := v.(string)
	if !ok {
		return "", &temporal.ValidationError{Field: key, Msg: "must be a string"}
	}
	if s == "" {
		return def, nil
	}
	return s, nil
}

func intArg(args map[string]any, key string, def int) (int, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	switch n := v.(type) {
	case float64:
		return int(n), nil
	case int:
		return n, nil
	case int64:
		return int(n), nil
	}
	return 0, &temporal.ValidationError{Field: key, Msg: fmt.Sprintf("must be an integer, got %T", v)}
}

func boolArg(args map[string]any, key string, def bool) (bool, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return def, nil
	}
	b, ok := v.(bool)
	if !ok {
		return false, &temporal.ValidationError{Field: key, Msg: "must be a boolean"}
	}
	return b, nil
}

func anyArg(args map[string]any, key string) (any, error) {
	v, ok := args[key]
	if !ok || v == nil {
		return nil, &temporal.ValidationError{Field: key, Msg: "required argument missing"}
	}
	return v, nil
}
