package config

import (
	"reflect"
)

// Merge copies the non-zero fields of source onto the same-named fields of
// target. Both must be structs or pointers to structs; anything else is a
// no-op.
//
// A non-nil pointer field in source also sets a non-pointer target field of
// the pointed-to type, which lets request bodies use *bool and *int to
// override a default with false or zero. Empty slices and maps are treated
// as zero. Nested structs are merged field by field.
//
// Example:
//
//	opts := cfg.Retrieval.Engine.Defaults
//	config.Merge(&opts, req.ContextOptions)
func Merge(target, source any) {
	if source == nil {
		return
	}
	targetVal := reflect.ValueOf(target)
	sourceVal := reflect.ValueOf(source)

	if targetVal.Kind() != reflect.Ptr || targetVal.IsNil() {
		return
	}
	targetVal = targetVal.Elem()
	if sourceVal.Kind() == reflect.Ptr {
		if sourceVal.IsNil() {
			return
		}
		sourceVal = sourceVal.Elem()
	}
	mergeStruct(targetVal, sourceVal)
}

func mergeStruct(targetVal, sourceVal reflect.Value) {
	if targetVal.Kind() != reflect.Struct || sourceVal.Kind() != reflect.Struct {
		return
	}

	for i := 0; i < sourceVal.NumField(); i++ {
		sourceFieldType := sourceVal.Type().Field(i)
		if !sourceFieldType.IsExported() {
			continue
		}
		sourceField := sourceVal.Field(i)

		targetField := targetVal.FieldByName(sourceFieldType.Name)
		if !targetField.IsValid() || !targetField.CanSet() {
			continue
		}

		switch sourceField.Kind() {
		case reflect.Slice, reflect.Map:
			if !sourceField.IsNil() && sourceField.Len() > 0 && sourceField.Type().AssignableTo(targetField.Type()) {
				targetField.Set(sourceField)
			}
		case reflect.Ptr:
			if sourceField.IsNil() {
				continue
			}
			switch {
			case sourceField.Type().AssignableTo(targetField.Type()):
				targetField.Set(sourceField)
			case sourceField.Elem().Type().AssignableTo(targetField.Type()):
				targetField.Set(sourceField.Elem())
			case sourceField.Elem().Type().ConvertibleTo(targetField.Type()) && sourceField.Elem().Kind() == targetField.Kind():
				targetField.Set(sourceField.Elem().Convert(targetField.Type()))
			}
		case reflect.Struct:
			if targetField.Kind() == reflect.Struct {
				mergeStruct(targetField, sourceField)
			}
		default:
			if sourceField.IsZero() {
				continue
			}
			switch {
			case sourceField.Type().AssignableTo(targetField.Type()):
				targetField.Set(sourceField)
			case sourceField.Type().ConvertibleTo(targetField.Type()) && sourceField.Kind() == targetField.Kind():
				targetField.Set(sourceField.Convert(targetField.Type()))
			}
		}
	}
}
