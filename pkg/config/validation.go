package config

import (
	"reflect"

	sserr "github.com/StricklySoft/paragate/pkg/errors"
)

// Validator is implemented by configuration structs with checks beyond
// required tags. [Loader.Load] calls Validate after the required check
// passes. A coded error is returned as-is; any other error is wrapped
// with [sserr.CodeValidation].
type Validator interface {
	Validate() error
}

func validate(cfg any, rv reflect.Value) error {
	if err := validateRequired(rv, ""); err != nil {
		return err
	}
	v, ok := cfg.(Validator)
	if !ok {
		return nil
	}
	if err := v.Validate(); err != nil {
		if _, coded := sserr.AsError(err); coded {
			return err
		}
		return sserr.Wrap(err, sserr.CodeValidation, "config: validation failed")
	}
	return nil
}

// validateRequired checks `required:"true"` fields, reporting the dotted
// path of the first empty one (e.g. "Redis.Host").
func validateRequired(rv reflect.Value, path string) error {
	rt := rv.Type()
	for i := 0; i < rt.NumField(); i++ {
		field := rv.Field(i)
		sf := rt.Field(i)
		if !field.CanSet() {
			continue
		}

		fieldPath := sf.Name
		if path != "" {
			fieldPath = path + "." + sf.Name
		}

		if isSection(field) {
			if err := validateRequired(field, fieldPath); err != nil {
				return err
			}
			continue
		}
		if sf.Tag.Get("required") == "true" && field.IsZero() {
			return sserr.Newf(sserr.CodeValidation,
				"config: required field %q is empty", fieldPath)
		}
	}
	return nil
}
