package school

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// SchoolInput is the raw shape of one add payload entry. Fields stay untyped
// so that a wrong JSON type is reported per field instead of failing decode.
type SchoolInput struct {
	Name      any `json:"name" validate:"jsonstring"`
	Address   any `json:"address" validate:"jsonstring"`
	Latitude  any `json:"latitude" validate:"jsonnumber"`
	Longitude any `json:"longitude" validate:"jsonnumber"`
}

// AddRequest is the add payload after shape detection: a single object or a batch.
type AddRequest struct {
	Batch   bool
	Entries []json.RawMessage
}

// EntryError describes why one entry of an add payload was rejected.
type EntryError struct {
	Index  int             `json:"index"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
	Errors []string        `json:"errors"`
}

// ParseAddRequest decides between the single-object and the array form.
func ParseAddRequest(body []byte) (AddRequest, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return AddRequest{}, fmt.Errorf("%w: request body is empty", ErrInvalidInput)
	}

	switch trimmed[0] {
	case '[':
		var entries []json.RawMessage
		if err := json.Unmarshal(trimmed, &entries); err != nil {
			return AddRequest{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
		return AddRequest{Batch: true, Entries: entries}, nil
	case '{':
		if !json.Valid(trimmed) {
			return AddRequest{}, fmt.Errorf("%w: malformed JSON object", ErrInvalidInput)
		}
		return AddRequest{Entries: []json.RawMessage{json.RawMessage(trimmed)}}, nil
	default:
		return AddRequest{}, fmt.Errorf("%w: expected a JSON object or array", ErrInvalidInput)
	}
}

type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	// Errors are impossible here: tags are non-empty and funcs non-nil.
	_ = v.RegisterValidation("jsonstring", func(fl validator.FieldLevel) bool {
		s, ok := fl.Field().Interface().(string)
		return ok && s != ""
	})
	_ = v.RegisterValidation("jsonnumber", func(fl validator.FieldLevel) bool {
		_, err := coordinate(fl.Field().Interface())
		return err == nil
	})

	return &Validator{validate: v}
}

// Validate checks one entry and converts it into a School.
// On failure every offending field is reported.
func (v *Validator) Validate(raw json.RawMessage) (*School, []string) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, []string{`"value" must be of type object`}
	}

	var input SchoolInput
	if err := json.Unmarshal(trimmed, &input); err != nil {
		return nil, []string{fmt.Sprintf(`"value" is not valid JSON: %v`, err)}
	}

	if err := v.validate.Struct(&input); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return nil, []string{err.Error()}
		}
		messages := make([]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			messages = append(messages, fieldMessage(fe))
		}
		return nil, messages
	}

	lat, _ := coordinate(input.Latitude)
	lon, _ := coordinate(input.Longitude)

	return &School{
		Name:      input.Name.(string),
		Address:   input.Address.(string),
		Latitude:  lat,
		Longitude: lon,
	}, nil
}

// ValidateAll validates every entry without stopping at the first failure.
// Schools are returned only when all entries are valid.
func (v *Validator) ValidateAll(entries []json.RawMessage) ([]School, []EntryError) {
	schools := make([]School, 0, len(entries))
	var failures []EntryError

	for i, raw := range entries {
		school, messages := v.Validate(raw)
		if len(messages) > 0 {
			failures = append(failures, EntryError{
				Index:  i,
				Data:   raw,
				Error:  messages[0],
				Errors: messages,
			})
			continue
		}
		schools = append(schools, *school)
	}

	if len(failures) > 0 {
		return nil, failures
	}
	return schools, nil
}

func fieldMessage(fe validator.FieldError) string {
	field := fe.Field()

	if fe.Value() == nil {
		return fmt.Sprintf("%q is required", field)
	}

	switch fe.Tag() {
	case "jsonstring":
		if s, ok := fe.Value().(string); ok && s == "" {
			return fmt.Sprintf("%q is not allowed to be empty", field)
		}
		return fmt.Sprintf("%q must be a string", field)
	case "jsonnumber":
		return fmt.Sprintf("%q must be a number", field)
	default:
		return fmt.Sprintf("%q failed on the %q rule", field, fe.Tag())
	}
}

var decimalPattern = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// parseDecimal parses a base-10 number. Hex floats, underscores, Inf and NaN
// are rejected even though strconv.ParseFloat accepts them.
func parseDecimal(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if !decimalPattern.MatchString(s) {
		return 0, fmt.Errorf("%q is not a decimal number", s)
	}
	return strconv.ParseFloat(s, 64)
}

// coordinate accepts a JSON number or a numeric string.
func coordinate(v any) (float64, error) {
	var f float64
	switch value := v.(type) {
	case float64:
		f = value
	case string:
		parsed, err := parseDecimal(value)
		if err != nil {
			return 0, err
		}
		f = parsed
	default:
		return 0, fmt.Errorf("unsupported coordinate type %T", v)
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("coordinate must be finite")
	}
	return f, nil
}
