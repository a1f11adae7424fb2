// Copyright 2026 Canonical Ltd.
// Licensed under the AGPLv3, see LICENCE file for details.

package vaultkv

import (
	"strings"

	"github.com/juju/errors"
)

// DefaultBackendFormat is used when no backend format is configured.
const DefaultBackendFormat = "charm-{app}"

const (
	appPlaceholder       = "app"
	modelUUIDPlaceholder = "model-uuid"
)

// Scope identifies who shares a store.
type Scope string

const (
	// UnitScope stores are private to the local unit.
	UnitScope Scope = "unit"
	// AppScope stores are shared by every unit of the application.
	AppScope Scope = "app"
)

// BackendName expands format into the name of the secrets backend for the
// application described by id. The placeholders {app} and {model-uuid}
// are supported, and {{ and }} produce literal braces. An empty format
// means DefaultBackendFormat.
func BackendName(format string, id Identity) (string, error) {
	if format == "" {
		format = DefaultBackendFormat
	}
	name, err := expandFormat(format, map[string]func() string{
		appPlaceholder:       id.ApplicationName,
		modelUUIDPlaceholder: id.ModelUUID,
	})
	if err != nil {
		return "", err
	}
	if err := validatePath(name); err != nil {
		return "", misconfigured("backend format %q: %v", format, err)
	}
	return name, nil
}

func expandFormat(format string, vars map[string]func() string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(format); {
		switch c := format[i]; c {
		case '{':
			if strings.HasPrefix(format[i:], "{{") {
				b.WriteByte('{')
				i += 2
				continue
			}
			end := strings.IndexByte(format[i:], '}')
			if end < 0 {
				return "", misconfigured("backend format %q: unbalanced '{'", format)
			}
			name := format[i+1 : i+end]
			value, ok := vars[name]
			if !ok {
				return "", misconfigured("backend format %q: unknown placeholder %q", format, name)
			}
			b.WriteString(value())
			i += end + 1
		case '}':
			if strings.HasPrefix(format[i:], "}}") {
				b.WriteByte('}')
				i += 2
				continue
			}
			return "", misconfigured("backend format %q: unbalanced '}'", format)
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), nil
}

func validatePath(p string) error {
	if p == "" {
		return errors.Errorf("empty path")
	}
	for _, segment := range strings.Split(p, "/") {
		switch segment {
		case "":
			return errors.Errorf("path %q has an empty segment", p)
		case ".", "..":
			return errors.Errorf("path %q has a relative segment", p)
		}
		if strings.ContainsAny(segment, " \t\r\n") {
			return errors.Errorf("path %q contains whitespace", p)
		}
	}
	return nil
}

// UnitPath returns the backend path of the unit scope store.
func UnitPath(backend, ordinal string) (string, error) {
	return scopedPath(backend, "unit", ordinal)
}

// AppPath returns the backend path of the application scope store.
func AppPath(backend string) (string, error) {
	return scopedPath(backend, "app", "")
}

// AppHashesPath returns the backend path of the hash ledger kept for the
// unit with the given ordinal.
func AppHashesPath(backend, ordinal string) (string, error) {
	return scopedPath(backend, "app-hashes", ordinal)
}

func scopedPath(backend, kind, ordinal string) (string, error) {
	p := backend + "/kv/" + kind
	if kind != "app" {
		if ordinal == "" || strings.Contains(ordinal, "/") {
			return "", misconfigured("invalid unit ordinal %q", ordinal)
		}
		p += "/" + ordinal
	}
	if err := validatePath(p); err != nil {
		return "", misconfigured("%v", err)
	}
	return p, nil
}
