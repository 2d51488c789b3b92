package util

import (
	"fmt"
	"reflect"
	"strings"
	"text/template"
)

var instructionFuncs = template.FuncMap{
	"default": func(fallback, v any) any {
		if v == nil || v == "" {
			return fallback
		}
		return v
	},
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"join": func(sep string, v any) string {
		rv := reflect.ValueOf(v)
		if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
			return fmt.Sprint(v)
		}
		parts := make([]string, rv.Len())
		for i := range parts {
			parts[i] = fmt.Sprint(rv.Index(i).Interface())
		}
		return strings.Join(parts, sep)
	},
}

// RenderInstruction expands {{.var}} references in a system instruction.
// Text without template markers is returned untouched. A reference to a
// variable that is not set is an error rather than "<no value>"; optional
// variables go through index, as in {{default "studio" (index . "style")}}.
func RenderInstruction(text string, vars map[string]any) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	tmpl, err := template.New("instruction").
		Option("missingkey=error").
		Funcs(instructionFuncs).
		Parse(text)
	if err != nil {
		return "", fmt.Errorf("parse instruction: %w", err)
	}

	if vars == nil {
		vars = map[string]any{}
	}
	var sb strings.Builder
	if err := tmpl.Execute(&sb, vars); err != nil {
		return "", err
	}
	return sb.String(), nil
}
