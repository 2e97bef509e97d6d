package wire

import "github.com/invopop/jsonschema"

// Schema returns the JSON schema of Frame.
func Schema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference: true,
	}
	s := r.Reflect(&Frame{})
	s.Title = "frame"
	s.Description = "A line-delimited broker frame"
	return s
}
