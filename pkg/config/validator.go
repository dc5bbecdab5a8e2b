package config

import (
	"fmt"
	"reflect"
	"strings"
)

// Validator validates configuration.
type Validator interface {
	Validate(config interface{}) error
}

// ValidatorFunc is a function that validates configuration.
type ValidatorFunc func(config interface{}) error

func (f ValidatorFunc) Validate(config interface{}) error {
	return f(config)
}

// Validate runs validators in order and stops at the first failure.
func Validate(config interface{}, validators ...Validator) error {
	for _, v := range validators {
		if err := v.Validate(config); err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
	}
	return nil
}

// RequiredFields fails when any of the dotted field paths holds a zero value.
func RequiredFields(fields ...string) Validator {
	return ValidatorFunc(func(config interface{}) error {
		var missing []string
		for _, name := range fields {
			fv, err := lookup(config, name)
			if err != nil {
				return err
			}
			if fv.IsZero() {
				missing = append(missing, name)
			}
		}
		if len(missing) > 0 {
			return fmt.Errorf("required fields are missing: %s", strings.Join(missing, ", "))
		}
		return nil
	})
}

// RangeValidator checks that a numeric field lies in [min, max].
func RangeValidator(fieldName string, min, max float64) Validator {
	return ValidatorFunc(func(config interface{}) error {
		fv, err := lookup(config, fieldName)
		if err != nil {
			return err
		}

		var n float64
		switch fv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			n = float64(fv.Int())
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			n = float64(fv.Uint())
		case reflect.Float32, reflect.Float64:
			n = fv.Float()
		default:
			return fmt.Errorf("field %s is not numeric", fieldName)
		}

		if n < min || n > max {
			return fmt.Errorf("field %s value %v is out of range [%v, %v]", fieldName, n, min, max)
		}
		return nil
	})
}

// OneOfValidator checks that a string field is one of allowed.
func OneOfValidator(fieldName string, allowed ...string) Validator {
	return ValidatorFunc(func(config interface{}) error {
		fv, err := lookup(config, fieldName)
		if err != nil {
			return err
		}
		if fv.Kind() != reflect.String {
			return fmt.Errorf("field %s is not a string", fieldName)
		}
		for _, a := range allowed {
			if fv.String() == a {
				return nil
			}
		}
		return fmt.Errorf("field %s value %q is not one of allowed values: %v", fieldName, fv.String(), allowed)
	})
}

// lookup resolves a dotted field path such as "Server.Workers".
func lookup(config interface{}, path string) (reflect.Value, error) {
	current := reflect.ValueOf(config)
	for _, part := range strings.Split(path, ".") {
		if current.Kind() == reflect.Ptr {
			current = current.Elem()
		}
		if current.Kind() != reflect.Struct {
			return reflect.Value{}, fmt.Errorf("field %s not found in config struct", path)
		}
		current = current.FieldByName(part)
		if !current.IsValid() {
			return reflect.Value{}, fmt.Errorf("field %s not found in config struct", path)
		}
	}
	return current, nil
}
