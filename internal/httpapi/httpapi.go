// Package httpapi holds the JSON envelope, request validation and error
// mapping shared by every handler.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"bibliopanel/internal/docstore"
	"bibliopanel/internal/listing"
	"bibliopanel/internal/logger"

	"github.com/go-playground/validator/v10"
)

// Validate checks request bodies. Error fields use the JSON names.
var Validate = newValidator()

const notBlankTag = "notblank"

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation(notBlankTag, func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

type envelope struct {
	Data  any        `json:"data,omitempty"`
	Error *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// WriteJSON writes data inside the success envelope.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Data: data}); err != nil {
		logger.Warn("encode response", "error", err)
	}
}

// WriteError writes an error envelope.
func WriteError(w http.ResponseWriter, status int, code, message string) {
	writeError(w, status, &errorBody{Code: code, Message: message})
}

func writeError(w http.ResponseWriter, status int, body *errorBody) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Error: body})
}

// Mapping ties a domain error to a response.
type Mapping struct {
	Err    error
	Status int
	Code   string
}

var storeMappings = []Mapping{
	{docstore.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{docstore.ErrConflict, http.StatusConflict, "CONFLICT"},
}

// WriteDomainError picks the first mapping err matches; anything unmapped is
// logged and reported as an internal error.
func WriteDomainError(w http.ResponseWriter, r *http.Request, err error, mappings ...Mapping) {
	var bad *BadRequestError
	if errors.As(err, &bad) {
		writeError(w, http.StatusBadRequest, &errorBody{Code: "VALIDATION_ERROR", Message: bad.Error(), Fields: bad.Fields})
		return
	}
	for _, m := range append(mappings, storeMappings...) {
		if errors.Is(err, m.Err) {
			WriteError(w, m.Status, m.Code, err.Error())
			return
		}
	}
	logger.ErrorContext(r.Context(), "request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	WriteError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
}

// BadRequestError reports an unreadable or invalid request.
type BadRequestError struct {
	Err    error
	Fields map[string]string
}

func (e *BadRequestError) Error() string {
	if e.Err == nil {
		return "invalid request"
	}
	return e.Err.Error()
}

func (e *BadRequestError) Unwrap() error { return e.Err }

// DecodeJSON reads the body into v and validates it.
func DecodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &BadRequestError{Err: fmt.Errorf("decode body: %w", err)}
	}
	return ValidateStruct(v)
}

// ValidateStruct runs Validate and converts failures to a BadRequestError.
func ValidateStruct(v any) error {
	err := Validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &BadRequestError{Err: err}
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = describe(fe)
	}
	return &BadRequestError{Err: errors.New("validation failed"), Fields: fields}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", notBlankTag:
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min", "gte":
		return "must be at least " + fe.Param()
	case "max", "lte":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of " + fe.Param()
	default:
		return "failed " + fe.Tag() + " check"
	}
}

// ListQuery reads search, sort, page and size from the query string.
func ListQuery(r *http.Request) (listing.Query, error) {
	values := r.URL.Query()
	q := listing.Query{
		Search: values.Get("search"),
		Sort:   values.Get("sort"),
	}
	for name, dst := range map[string]*int{"page": &q.Page, "size": &q.Size} {
		raw := values.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return q, &BadRequestError{Err: fmt.Errorf("%s must be an integer", name), Fields: map[string]string{name: "must be an integer"}}
		}
		*dst = n
	}
	if err := ValidateStruct(q); err != nil {
		return q, err
	}
	return q.Normalize(), nil
}

// IntParam parses a path or query value as an integer.
func IntParam(raw, name string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &BadRequestError{Err: fmt.Errorf("%s must be an integer", name), Fields: map[string]string{name: "must be an integer"}}
	}
	return n, nil
}
