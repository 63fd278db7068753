package record

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"animdb/internal/services"
)

// DefaultSchemaFamily is the accepted schema tag prefix.
const DefaultSchemaFamily = "MiZu_Character_Profile"

var intermediateIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}$`)

// Validator checks reconstructed records against the schema family and the
// identity formats.
type Validator struct {
	family     string
	schema     *regexp.Regexp
	validate   *validator.Validate
	translator ut.Translator
}

// NewValidator builds a validator for the schema family, e.g.
// "MiZu_Character_Profile" accepts "MiZu_Character_Profile_v1.0000.01".
func NewValidator(family string) (*Validator, error) {
	family = strings.TrimSpace(family)
	if family == "" {
		family = DefaultSchemaFamily
	}
	schema, err := regexp.Compile(`^` + regexp.QuoteMeta(family) + `_v\d\.\d{4}\.\d{2}$`)
	if err != nil {
		return nil, fmt.Errorf("compile schema pattern: %w", err)
	}

	enLoc := en.New()
	uni := ut.New(enLoc, enLoc)
	trans, _ := uni.GetTranslator("en")

	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		tag := fld.Tag.Get("json")
		if tag == "-" || tag == "" {
			return fld.Name
		}
		if idx := strings.Index(tag, ","); idx >= 0 {
			tag = tag[:idx]
		}
		return tag
	})
	if err := en_translations.RegisterDefaultTranslations(v, trans); err != nil {
		return nil, fmt.Errorf("register translations: %w", err)
	}

	val := &Validator{family: family, schema: schema, validate: v, translator: trans}
	rules := []struct {
		tag     string
		fn      validator.Func
		message string
	}{
		{"schema_tag", func(fl validator.FieldLevel) bool { return schema.MatchString(fl.Field().String()) },
			"{0} must match " + family + "_v<d>.<dddd>.<dd>"},
		{"intermediate_id", func(fl validator.FieldLevel) bool { return intermediateIDPattern.MatchString(fl.Field().String()) },
			"{0} must be 16 hex characters grouped xxxx-xxxx-xxxx-xxxx"},
		{"origin_uuid", func(fl validator.FieldLevel) bool { return len(CleanHex(fl.Field().String())) == 32 },
			"{0} must contain 32 hex characters"},
	}
	for _, rule := range rules {
		if err := v.RegisterValidation(rule.tag, rule.fn); err != nil {
			return nil, fmt.Errorf("register %s: %w", rule.tag, err)
		}
		registerMessage(v, trans, rule.tag, rule.message)
	}
	return val, nil
}

// Family returns the accepted schema family.
func (v *Validator) Family() string {
	return v.family
}

// SchemaMatches reports whether tag is a valid schema tag for the family.
func (v *Validator) SchemaMatches(tag string) bool {
	return v.schema.MatchString(tag)
}

// Check validates a record. Schema violations map to ErrInvalidSchema, every
// other violation to ErrMalformedRecord.
func (v *Validator) Check(rec Record) error {
	err := v.validate.Struct(rec)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return services.Wrap(services.ErrMalformedRecord, "", "validate record", "", err)
	}
	fe := verrs[0]
	marker := services.ErrMalformedRecord
	if fe.Tag() == "schema_tag" || fe.Field() == "schema" {
		marker = services.ErrInvalidSchema
	}
	return services.Wrap(marker, "", "validate record", fe.Translate(v.translator), nil)
}

func registerMessage(v *validator.Validate, trans ut.Translator, tag, message string) {
	_ = v.RegisterTranslation(tag, trans,
		func(ut ut.Translator) error {
			return ut.Add(tag, message, true)
		},
		func(ut ut.Translator, fe validator.FieldError) string {
			msg, _ := ut.T(tag, fe.Field())
			return msg
		},
	)
}
