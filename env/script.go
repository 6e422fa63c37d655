package env

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/wippyai/gym-bridge/errors"
)

// buildScript renders the statements that construct the environment and
// bind it to the global v.
func buildScript(v, name string, o *options) (string, error) {
	args := []string{strconv.Quote(name)}
	if o.renderMode != "" {
		args = append(args, "render_mode="+strconv.Quote(o.renderMode))
	}

	keys := make([]string, 0, len(o.params))
	for k := range o.params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !isIdentifier(k) || k == "render_mode" {
			return "", errors.New(errors.PhaseEnv, errors.KindInvalidInput).
				Path("params", k).
				Detail("%q is not a valid keyword argument", k).
				Build()
		}
		lit, err := pyLiteral(o.params[k])
		if err != nil {
			return "", errors.New(errors.PhaseEnv, errors.KindInvalidInput).
				Path("params", k).
				Cause(err).
				Detail("parameter %q", k).
				Build()
		}
		args = append(args, k+"="+lit)
	}

	var b strings.Builder
	b.WriteString("import gymnasium\n")
	fmt.Fprintf(&b, "%s = gymnasium.make(%s)\n", v, strings.Join(args, ", "))
	for _, w := range o.wrappers {
		fmt.Fprintf(&b, "%s = %s\n", v, w.Expr(v))
	}
	return b.String(), nil
}

// pyLiteral renders v as a Python literal. Maps render with sorted keys.
func pyLiteral(v any) (string, error) {
	switch x := v.(type) {
	case nil:
		return "None", nil
	case bool:
		return pyBool(x), nil
	case string:
		return strconv.Quote(x), nil
	case float64:
		return pyFloat(x), nil
	case float32:
		return pyFloat(float64(x)), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Slice, reflect.Array:
		items := make([]string, rv.Len())
		for i := range items {
			s, err := pyLiteral(rv.Index(i).Interface())
			if err != nil {
				return "", err
			}
			items[i] = s
		}
		return "[" + strings.Join(items, ", ") + "]", nil
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			break
		}
		keys := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		items := make([]string, len(keys))
		for i, k := range keys {
			s, err := pyLiteral(rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key())).Interface())
			if err != nil {
				return "", err
			}
			items[i] = strconv.Quote(k) + ": " + s
		}
		return "{" + strings.Join(items, ", ") + "}", nil
	}
	return "", errors.UnsupportedVariant(fmt.Sprintf("%T", v), "python literal")
}

func pyBool(b bool) string {
	if b {
		return "True"
	}
	return "False"
}

func pyFloat(f float64) string {
	switch {
	case math.IsNaN(f):
		return "float('nan')"
	case math.IsInf(f, 1):
		return "float('inf')"
	case math.IsInf(f, -1):
		return "float('-inf')"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".e") {
		s += ".0"
	}
	return s
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}
