// Package flagx binds tagged option structs to cobra flags.
//
//	type ServeOptions struct {
//	    Config string        `flag:"config,c" usage:"config file" default:"configs/meter.yaml"`
//	    Grace  time.Duration `flag:"grace" default:"10s"`
//	}
package flagx

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var durationType = reflect.TypeOf(time.Duration(0))

type field struct {
	name, short, usage, def string
	required                bool
	value                   reflect.Value
}

func fields(target interface{}) ([]field, error) {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("flagx: target must be a pointer to struct, got %T", target)
	}
	v = v.Elem()
	t := v.Type()

	var out []field
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		tag := sf.Tag.Get("flag")
		if tag == "" || !v.Field(i).CanSet() {
			continue
		}
		name, short, _ := strings.Cut(tag, ",")
		out = append(out, field{
			name:     name,
			short:    short,
			usage:    sf.Tag.Get("usage"),
			def:      sf.Tag.Get("default"),
			required: sf.Tag.Get("required") == "true",
			value:    v.Field(i),
		})
	}
	return out, nil
}

// Bind registers one flag per tagged field on cmd
func Bind(cmd *cobra.Command, target interface{}) error {
	fs, err := fields(target)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	for _, f := range fs {
		switch {
		case f.value.Type() == durationType:
			def, err := parseDefault(f, time.ParseDuration)
			if err != nil {
				return err
			}
			flags.DurationP(f.name, f.short, def, f.usage)
		case f.value.Kind() == reflect.String:
			flags.StringP(f.name, f.short, f.def, f.usage)
		case f.value.Kind() == reflect.Bool:
			def, err := parseDefault(f, strconv.ParseBool)
			if err != nil {
				return err
			}
			flags.BoolP(f.name, f.short, def, f.usage)
		case f.value.Kind() == reflect.Int:
			def, err := parseDefault(f, strconv.Atoi)
			if err != nil {
				return err
			}
			flags.IntP(f.name, f.short, def, f.usage)
		case f.value.Kind() == reflect.Slice && f.value.Type().Elem().Kind() == reflect.String:
			var def []string
			if f.def != "" {
				def = strings.Split(f.def, ",")
			}
			flags.StringSliceP(f.name, f.short, def, f.usage)
		default:
			return fmt.Errorf("flagx: field %s has unsupported type %s", f.name, f.value.Type())
		}
		if f.required {
			if err := cmd.MarkFlagRequired(f.name); err != nil {
				return err
			}
		}
	}
	return nil
}

func parseDefault[T any](f field, parse func(string) (T, error)) (T, error) {
	var zero T
	if f.def == "" {
		return zero, nil
	}
	v, err := parse(f.def)
	if err != nil {
		return zero, fmt.Errorf("flagx: default of %s: %w", f.name, err)
	}
	return v, nil
}

// Parse copies the parsed flag values into target
func Parse(cmd *cobra.Command, target interface{}) error {
	fs, err := fields(target)
	if err != nil {
		return err
	}
	flags := cmd.Flags()
	for _, f := range fs {
		switch {
		case f.value.Type() == durationType:
			d, err := flags.GetDuration(f.name)
			if err != nil {
				return err
			}
			f.value.SetInt(int64(d))
		case f.value.Kind() == reflect.String:
			s, err := flags.GetString(f.name)
			if err != nil {
				return err
			}
			f.value.SetString(s)
		case f.value.Kind() == reflect.Bool:
			b, err := flags.GetBool(f.name)
			if err != nil {
				return err
			}
			f.value.SetBool(b)
		case f.value.Kind() == reflect.Int:
			n, err := flags.GetInt(f.name)
			if err != nil {
				return err
			}
			f.value.SetInt(int64(n))
		case f.value.Kind() == reflect.Slice:
			ss, err := flags.GetStringSlice(f.name)
			if err != nil {
				return err
			}
			f.value.Set(reflect.ValueOf(ss))
		}
	}
	return nil
}
