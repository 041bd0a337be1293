// Package validation runs the declarative struct-tag checks applied to
// request payloads before they reach the person service.
//
//	v := validation.NewValidator()
//	if err := v.Struct(reg); err != nil {
//		var verrs validation.Errors
//		errors.As(err, &verrs) // one FieldError per failed rule
//	}
//
// Field names in messages are the JSON names of the fields.
package validation
