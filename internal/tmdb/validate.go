package tmdb

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Validated is a decoded provider response. When the payload does not match the
// expected shape, Issues lists the mismatches and Value holds whatever could be
// decoded; Raw always carries the original payload.
type Validated[T any] struct {
	Value  T
	Raw    json.RawMessage
	Issues []string
}

// OK reports whether the payload matched the expected shape.
func (v Validated[T]) OK() bool {
	return len(v.Issues) == 0
}

var errMalformed = errors.New("response is not valid JSON")

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decode parses raw into T without failing on shape drift. Only a body that is not
// JSON at all is an error.
func decode[T any](raw []byte) (Validated[T], error) {
	out := Validated[T]{Raw: json.RawMessage(raw)}
	if !json.Valid(raw) {
		return out, errMalformed
	}

	// encoding/json keeps filling the remaining fields after a type mismatch.
	if err := json.Unmarshal(raw, &out.Value); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			field := typeErr.Field
			if field == "" {
				field = "(root)"
			}
			out.Issues = append(out.Issues, fmt.Sprintf("%s: expected %s, got %s", field, typeErr.Type, typeErr.Value))
		} else {
			out.Issues = append(out.Issues, err.Error())
		}
	}

	if err := validate.Struct(out.Value); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				out.Issues = append(out.Issues, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
			}
		} else {
			out.Issues = append(out.Issues, err.Error())
		}
	}
	return out, nil
}
