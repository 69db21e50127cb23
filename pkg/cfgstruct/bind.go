// Copyright (C) 2024 The Mosalloc Authors.
// See LICENSE for copying information.

// Package cfgstruct binds a configuration struct's fields directly to
// pflag flags by reflection, the way storj.io/storj's cfgstruct
// package does: struct tags carry defaults and visibility, field
// names become dashed flag names, and nested structs become
// dot-separated flag prefixes. HPC_ environment binding on top of the
// resulting flag set lives in pkg/process.
package cfgstruct

import (
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
)

// BindOpt configures how Bind interprets ${CONFDIR}/$CONFDIR in
// default-value templates.
type BindOpt func(*bindOpts)

type bindOpts struct {
	confDir string
	nested  bool
}

// ConfDir makes every "default" tag's ${CONFDIR}/$CONFDIR placeholder
// expand to dir, unchanged at every nesting depth.
func ConfDir(dir string) BindOpt {
	return func(o *bindOpts) { o.confDir = dir }
}

// ConfDirNested is like ConfDir, but the expansion accumulates one
// path segment (the dashed struct field name) per level of struct
// nesting, so configuration owned by a nested struct defaults into a
// same-named subdirectory of dir.
func ConfDirNested(dir string) BindOpt {
	return func(o *bindOpts) { o.confDir = dir; o.nested = true }
}

// Bind walks config (a pointer to a struct) and registers one flag
// per leaf field into flags, using each field's "default" tag
// (expanded per opts) as the flag's default value.
func Bind(flags *pflag.FlagSet, config interface{}, opts ...BindOpt) {
	var o bindOpts
	for _, opt := range opts {
		opt(&o)
	}
	bindStruct(flags, "", reflect.ValueOf(config).Elem(), o.confDir, o)
}

var durationType = reflect.TypeOf(time.Duration(0))

func bindStruct(flags *pflag.FlagSet, prefix string, v reflect.Value, confDir string, o bindOpts) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.PkgPath != "" {
			continue // unexported
		}
		fieldVal := v.Field(i)
		name := joinFlag(prefix, dashed(field.Name))

		switch {
		case field.Type.Kind() == reflect.Array && field.Type.Elem().Kind() == reflect.Struct:
			width := len(strconv.Itoa(field.Type.Len() - 1))
			for j := 0; j < field.Type.Len(); j++ {
				idx := fitWidth(j, width)
				bindStruct(flags, joinFlag(name, idx), fieldVal.Index(j), confDir, o)
			}

		case field.Type.Kind() == reflect.Struct && field.Type != durationType:
			nextConfDir := confDir
			if o.nested {
				nextConfDir = filepath.Join(confDir, dashed(field.Name))
			}
			bindStruct(flags, name, fieldVal, nextConfDir, o)

		default:
			bindLeaf(flags, name, fieldVal, field, confDir)
		}
	}
}

func bindLeaf(flags *pflag.FlagSet, name string, val reflect.Value, field reflect.StructField, confDir string) {
	def := expand(chooseDefault(field), confDir)
	usage := field.Tag.Get("usage")
	hidden, _ := strconv.ParseBool(field.Tag.Get("hidden"))
	defer func() {
		if hidden {
			_ = flags.MarkHidden(name)
		}
	}()

	switch ptr := val.Addr().Interface().(type) {
	case *string:
		flags.StringVar(ptr, name, def, usage)
	case *bool:
		b, _ := strconv.ParseBool(orZero(def, "false"))
		flags.BoolVar(ptr, name, b, usage)
	case *int:
		n, _ := strconv.Atoi(orZero(def, "0"))
		flags.IntVar(ptr, name, n, usage)
	case *int64:
		n, _ := strconv.ParseInt(orZero(def, "0"), 10, 64)
		flags.Int64Var(ptr, name, n, usage)
	case *uint:
		n, _ := strconv.ParseUint(orZero(def, "0"), 10, 64)
		flags.UintVar(ptr, name, uint(n), usage)
	case *uint64:
		n, _ := strconv.ParseUint(orZero(def, "0"), 10, 64)
		flags.Uint64Var(ptr, name, n, usage)
	case *float64:
		f, _ := strconv.ParseFloat(orZero(def, "0"), 64)
		flags.Float64Var(ptr, name, f, usage)
	case *time.Duration:
		d, _ := time.ParseDuration(orZero(def, "0"))
		flags.DurationVar(ptr, name, d, usage)
	default:
		// Anything implementing pflag.Value (e.g. memory.Size) binds
		// directly against its own Set/String/Type methods.
		if pv, ok := val.Addr().Interface().(pflag.Value); ok {
			_ = pv.Set(def)
			flags.Var(pv, name, usage)
			return
		}
		panic("cfgstruct: unsupported field type for " + name)
	}
}

func chooseDefault(field reflect.StructField) string {
	if d, ok := field.Tag.Lookup("default"); ok {
		return d
	}
	if d, ok := field.Tag.Lookup("releaseDefault"); ok {
		return d
	}
	if d, ok := field.Tag.Lookup("devDefault"); ok {
		return d
	}
	return ""
}

func orZero(s, zero string) string {
	if s == "" {
		return zero
	}
	return s
}

func expand(template, confDir string) string {
	r := strings.NewReplacer("${CONFDIR}", confDir, "$CONFDIR", confDir)
	return r.Replace(template)
}

func joinFlag(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}

func fitWidth(n, width int) string {
	s := strconv.Itoa(n)
	for len(s) < width {
		s = "0" + s
	}
	return s
}

// dashed converts an exported Go field name (PascalCase or all-caps
// acronym) into a dashed, lowercase flag segment: "MyStruct1" ->
// "my-struct1", "ConfigFile" -> "config-file".
func dashed(name string) string {
	var sb strings.Builder
	runes := []rune(name)
	for i, r := range runes {
		if i > 0 && isUpper(r) && !isUpper(runes[i-1]) {
			sb.WriteByte('-')
		}
		sb.WriteRune(toLower(r))
	}
	return sb.String()
}

func isUpper(r rune) bool { return r >= 'A' && r <= 'Z' }
func toLower(r rune) rune {
	if isUpper(r) {
		return r + ('a' - 'A')
	}
	return r
}
