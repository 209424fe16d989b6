package shared

import (
	"errors"

	"github.com/go-playground/validator/v10"
)

// ValidationMessages converts validator errors into per-field messages. The
// messages map is keyed by "Field.tag" first and then by "Field"; fields
// without an entry fall back to the validator's own text.
func ValidationMessages(err error, messages map[string]string) map[string]string {
	out := make(map[string]string)
	if err == nil {
		return out
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		out["general"] = err.Error()
		return out
	}
	for _, fe := range verrs {
		field := fe.Field()
		if _, seen := out[field]; seen {
			continue
		}
		if msg, ok := messages[field+"."+fe.Tag()]; ok {
			out[field] = msg
			continue
		}
		if msg, ok := messages[field]; ok {
			out[field] = msg
			continue
		}
		out[field] = fe.Error()
	}
	return out
}
