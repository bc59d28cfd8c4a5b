package schema

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
)

// ToJSONSchema converts a struct to a JSON schema
func ToJSONSchema[T any](t T) (string, error) {
	r := new(jsonschema.Reflector)
	r.DoNotReference = true
	schema := r.Reflect(t)

	jsonSchemaBytes, err := json.Marshal(schema)
	if err != nil {
		return "", err
	}

	return string(jsonSchemaBytes), nil
}

// KeychainFields returns the JSON names of the fields tagged `keychain:"true"`.
// Nested structs are walked; the returned names are the leaf field names.
func KeychainFields[T any](t T) []string {
	fields := []string{}
	collectKeychainFields(reflect.TypeOf(t), &fields)

	return fields
}

func collectKeychainFields(typ reflect.Type, fields *[]string) {
	for typ != nil && typ.Kind() == reflect.Pointer {
		typ = typ.Elem()
	}

	if typ == nil || typ.Kind() != reflect.Struct {
		return
	}

	for i := range typ.NumField() {
		field := typ.Field(i)
		if field.Type.Kind() == reflect.Struct {
			collectKeychainFields(field.Type, fields)

			continue
		}

		if field.Tag.Get("keychain") != "true" {
			continue
		}

		name := field.Name
		if tag, _, _ := strings.Cut(field.Tag.Get("json"), ","); tag != "" && tag != "-" {
			name = tag
		}

		*fields = append(*fields, name)
	}
}
