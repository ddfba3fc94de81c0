package infra

import "github.com/mlvik/coursekit/internal/infrastructure/validate"

// RESTStandardError response error envelope used by the mock server
type RESTStandardError struct {
	Type   string `json:"type,omitempty"`
	Code   int    `json:"code"`
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
}

func NewRESTStandardError(code int, title string) *RESTStandardError {
	return &RESTStandardError{
		Code:  code,
		Title: title,
	}
}

func (re RESTStandardError) Error() string {
	return re.Detail
}

func (re RESTStandardError) SetType(errType string) RESTStandardError {
	re.Type = errType
	return re
}

func (re RESTStandardError) SetDetail(detail string) RESTStandardError {
	re.Detail = detail
	return re
}

// RESTValidationError standard validation error
type RESTValidationError struct {
	RESTStandardError
	Errors []*validate.FieldError `json:"errors"`
}

func NewRESTValidationError(code int, title string, internal []*validate.FieldError) *RESTValidationError {
	return &RESTValidationError{
		RESTStandardError: RESTStandardError{
			Code:  code,
			Title: title,
		},
		Errors: internal,
	}
}

func (rve RESTValidationError) Error() string {
	return rve.Detail
}
