package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cyphera/sponsor-relay/libs/go/helpers"
	"github.com/cyphera/sponsor-relay/libs/go/relayerr"
)

// Field types understood by ValidateInput.
const (
	TypeString    = "string"
	TypeNumber    = "number"
	TypeBoolean   = "boolean"
	TypeObject    = "object"
	TypeUUID      = "uuid"
	TypeAddress   = "address"
	TypeBytes32   = "bytes32"
	TypeSignature = "signature"
)

// ValidationRule defines a single validation rule
type ValidationRule struct {
	Field     string
	Required  bool
	Type      string
	MinLength int
	MaxLength int
	Min       *float64
	Max       *float64
	// Integer rejects numbers with a fractional part.
	Integer bool
	Custom  func(interface{}) error
}

// ValidationConfig holds validation rules for an endpoint
type ValidationConfig struct {
	Rules              []ValidationRule
	MaxBodySize        int64
	AllowUnknownFields bool
}

// ValidationError is one failed field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// String renders the error the way it appears in the top-level message.
func (e ValidationError) String() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// ValidationFailure is the response body for a rejected request. It carries
// the same fields as any other failed relay response plus the field list.
type ValidationFailure struct {
	OK        bool              `json:"ok"`
	Error     string            `json:"error"`
	Category  relayerr.Category `json:"category"`
	Code      string            `json:"code"`
	Retryable bool              `json:"retryable"`
	Errors    []ValidationError `json:"errors"`
}

func abortInvalid(c *gin.Context, status int, code string, errs []ValidationError) {
	msg := "invalid request"
	if len(errs) > 0 {
		msg = errs[0].String()
	}
	c.AbortWithStatusJSON(status, ValidationFailure{
		Error:    msg,
		Category: relayerr.CategoryValidation,
		Code:     code,
		Errors:   errs,
	})
}

// ValidateInput rejects malformed JSON bodies before they reach a handler.
// It only checks shape; the authorization validator still checks everything
// that matters for signing.
func ValidateInput(config ValidationConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if config.MaxBodySize > 0 && c.Request.ContentLength > config.MaxBodySize {
			abortInvalid(c, http.StatusRequestEntityTooLarge, "body_too_large", []ValidationError{{
				Field:   "body",
				Message: fmt.Sprintf("must be at most %d bytes", config.MaxBodySize),
			}})
			return
		}

		var reader io.Reader = c.Request.Body
		if config.MaxBodySize > 0 {
			reader = io.LimitReader(c.Request.Body, config.MaxBodySize+1)
		}
		raw, err := io.ReadAll(reader)
		if err != nil {
			abortInvalid(c, http.StatusBadRequest, "invalid_json", []ValidationError{{Field: "body", Message: "could not be read"}})
			return
		}
		if config.MaxBodySize > 0 && int64(len(raw)) > config.MaxBodySize {
			abortInvalid(c, http.StatusRequestEntityTooLarge, "body_too_large", []ValidationError{{
				Field:   "body",
				Message: fmt.Sprintf("must be at most %d bytes", config.MaxBodySize),
			}})
			return
		}

		var body map[string]interface{}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.UseNumber()
		if err := dec.Decode(&body); err != nil || body == nil {
			abortInvalid(c, http.StatusBadRequest, "invalid_json", []ValidationError{{Field: "body", Message: "must be a JSON object"}})
			return
		}

		if errs := validateFields(body, config.Rules, config.AllowUnknownFields); len(errs) > 0 {
			abortInvalid(c, http.StatusBadRequest, "invalid_request", errs)
			return
		}

		c.Request.Body = io.NopCloser(bytes.NewReader(raw))
		c.Next()
	}
}

// ValidatePathParam checks a single path parameter against a rule.
func ValidatePathParam(rule ValidationRule) gin.HandlerFunc {
	return func(c *gin.Context) {
		value := c.Param(rule.Field)
		if errs := validateFields(map[string]interface{}{rule.Field: value}, []ValidationRule{rule}, true); len(errs) > 0 {
			abortInvalid(c, http.StatusBadRequest, "invalid_request", errs)
			return
		}
		c.Next()
	}
}

func validateFields(data map[string]interface{}, rules []ValidationRule, allowUnknown bool) []ValidationError {
	var errs []ValidationError
	known := make(map[string]bool, len(rules))

	for _, rule := range rules {
		known[rule.Field] = true
		value, exists := data[rule.Field]

		if !exists || value == nil || value == "" {
			if rule.Required {
				errs = append(errs, ValidationError{Field: rule.Field, Message: "is required"})
			}
			continue
		}

		if err := validateValue(value, rule); err != nil {
			errs = append(errs, ValidationError{Field: rule.Field, Message: err.Error()})
			continue
		}

		if rule.Custom != nil {
			if err := rule.Custom(value); err != nil {
				errs = append(errs, ValidationError{Field: rule.Field, Message: err.Error()})
			}
		}
	}

	if !allowUnknown {
		for field := range data {
			if !known[field] {
				errs = append(errs, ValidationError{Field: field, Message: "is not a known field"})
			}
		}
	}

	return errs
}

func validateValue(value interface{}, rule ValidationRule) error {
	switch rule.Type {
	case TypeString:
		return validateString(value, rule)
	case TypeNumber:
		return validateNumber(value, rule)
	case TypeBoolean:
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("must be a boolean")
		}
	case TypeObject:
		if _, ok := value.(map[string]interface{}); !ok {
			return fmt.Errorf("must be an object")
		}
	case TypeUUID:
		str, ok := value.(string)
		if !ok {
			return fmt.Errorf("must be a string")
		}
		if _, err := uuid.Parse(str); err != nil {
			return fmt.Errorf("must be a valid UUID")
		}
	case TypeAddress:
		return validateHex(value, helpers.IsAddressValid, "must be a 0x-prefixed 20-byte address")
	case TypeBytes32:
		return validateHex(value, helpers.IsBytes32Valid, "must be a 0x-prefixed 32-byte hex value")
	case TypeSignature:
		return validateHex(value, helpers.IsSignatureValid, "must be a 0x-prefixed 65-byte signature")
	}
	return nil
}

func validateString(value interface{}, rule ValidationRule) error {
	str, ok := value.(string)
	if !ok {
		return fmt.Errorf("must be a string")
	}
	length := utf8.RuneCountInString(str)
	if rule.MinLength > 0 && length < rule.MinLength {
		return fmt.Errorf("must be at least %d characters long", rule.MinLength)
	}
	if rule.MaxLength > 0 && length > rule.MaxLength {
		return fmt.Errorf("must be at most %d characters long", rule.MaxLength)
	}
	if strings.ContainsRune(str, 0) {
		return fmt.Errorf("must not contain NUL bytes")
	}
	return nil
}

func validateNumber(value interface{}, rule ValidationRule) error {
	var num float64
	switch v := value.(type) {
	case json.Number:
		if rule.Integer {
			if _, err := v.Int64(); err != nil {
				return fmt.Errorf("must be an integer")
			}
		}
		f, err := v.Float64()
		if err != nil {
			return fmt.Errorf("must be a number")
		}
		num = f
	case float64:
		num = v
	default:
		return fmt.Errorf("must be a number")
	}

	if rule.Min != nil && num < *rule.Min {
		return fmt.Errorf("must be at least %v", *rule.Min)
	}
	if rule.Max != nil && num > *rule.Max {
		return fmt.Errorf("must be at most %v", *rule.Max)
	}
	return nil
}

func validateHex(value interface{}, valid func(string) bool, msg string) error {
	str, ok := value.(string)
	if !ok {
		return fmt.Errorf("must be a string")
	}
	if !valid(str) {
		return fmt.Errorf("%s", msg)
	}
	return nil
}

func float64Ptr(f float64) *float64 {
	return &f
}
