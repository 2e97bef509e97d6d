package task

import (
	"reflect"

	"github.com/invopop/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

var (
	stringMapType = reflect.TypeOf(orderedmap.OrderedMap[string, string]{})
	listMapType   = reflect.TypeOf(orderedmap.OrderedMap[string, []string]{})
)

// Schemas returns the JSON schemas of the payloads carried inside frames,
// keyed by name.
func Schemas() map[string]*jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference: true,
		Mapper:         mapOrdered,
	}
	out := map[string]*jsonschema.Schema{
		"solution":    r.Reflect(&Solution{}),
		"observation": r.Reflect(&Observation{}),
		"query":       r.Reflect(&Query{}),
	}
	for name, s := range out {
		s.Title = name
	}
	return out
}

func mapOrdered(t reflect.Type) *jsonschema.Schema {
	switch t {
	case stringMapType:
		return &jsonschema.Schema{
			Type:                 "object",
			AdditionalProperties: &jsonschema.Schema{Type: "string"},
		}
	case listMapType:
		return &jsonschema.Schema{
			Type: "object",
			AdditionalProperties: &jsonschema.Schema{
				Type:  "array",
				Items: &jsonschema.Schema{Type: "string"},
			},
		}
	}
	return nil
}
