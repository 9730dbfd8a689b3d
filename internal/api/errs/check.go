package errs

import (
	"errors"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var (
	validate   *validator.Validate
	translator ut.Translator
)

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	translator, _ = ut.New(en.New(), en.New()).GetTranslator("en")
	if err := en_translations.RegisterDefaultTranslations(validate, translator); err != nil {
		panic(err)
	}

	// Messages name fields the way the API spells them: tenantID, equipment.
	validate.RegisterTagNameFunc(func(f reflect.StructField) string {
		return lowerFirst(f.Name)
	})

	for tag, text := range map[string]string{
		"required_without": "{0} is required when {1} is absent",
		"excluded_with":    "{0} cannot be combined with {1}",
	} {
		if err := validate.RegisterTranslation(tag, translator, addTranslation(tag, text), translateWithParam(tag)); err != nil {
			panic(err)
		}
	}
}

func addTranslation(tag, text string) validator.RegisterTranslationsFunc {
	return func(trans ut.Translator) error {
		return trans.Add(tag, text, true)
	}
}

func translateWithParam(tag string) validator.TranslationFunc {
	return func(trans ut.Translator, fe validator.FieldError) string {
		msg, err := trans.T(tag, fe.Field(), lowerFirst(fe.Param()))
		if err != nil {
			return fe.Error()
		}
		return msg
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// FieldError is used to indicate an error with a specific request field.
type FieldError struct {
	Field string `json:"field"`
	Err   string `json:"error"`
}

// FieldErrors represents a collection of field errors.
type FieldErrors []FieldError

// Error implements the error interface.
func (fe FieldErrors) Error() string {
	parts := make([]string, 0, len(fe))
	for _, f := range fe {
		parts = append(parts, f.Field+": "+f.Err)
	}
	return strings.Join(parts, "; ")
}

// Fields returns the errors keyed by field name.
func (fe FieldErrors) Fields() map[string]string {
	m := make(map[string]string, len(fe))
	for _, f := range fe {
		m[f.Field] = f.Err
	}
	return m
}

// Check validates the provided model against its declared tags.
func Check(val any) error {
	err := validate.Struct(val)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	fields := make(FieldErrors, 0, len(verrs))
	for _, ve := range verrs {
		fields = append(fields, FieldError{Field: fieldName(ve), Err: ve.Translate(translator)})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Field < fields[j].Field })
	return fields
}

func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	return ns
}
