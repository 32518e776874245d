package middleware

import (
	"errors"
	"net/http"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/jwalitptl/towndir/internal/handler"
	"github.com/jwalitptl/towndir/internal/model"
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationConfig represents validation middleware configuration
type ValidationConfig struct {
	CustomValidators    map[string]validator.Func
	CustomErrorMessages map[string]string
}

var slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		CustomValidators: map[string]validator.Func{
			"slug": func(fl validator.FieldLevel) bool {
				return slugPattern.MatchString(fl.Field().String())
			},
			"suppression_reason": func(fl validator.FieldLevel) bool {
				return model.SuppressionReason(fl.Field().String()).Valid()
			},
			"email_status": func(fl validator.FieldLevel) bool {
				return model.EmailStatus(fl.Field().String()).Valid()
			},
		},
		CustomErrorMessages: map[string]string{
			"required":           "Field is required",
			"email":              "Invalid email format",
			"min":                "Value is too short",
			"max":                "Value is too long",
			"uuid":               "Invalid id",
			"slug":               "Must be lowercase letters, digits and single dashes",
			"suppression_reason": "Unknown suppression reason",
			"email_status":       "Unknown email status",
		},
	}
}

var registerOnce sync.Once

// Validation registers the custom binding tags and turns binding failures
// attached with c.Error into a 400 listing every bad field.
func Validation(config ValidationConfig) gin.HandlerFunc {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		for tag, fn := range config.CustomValidators {
			if err := v.RegisterValidation(tag, fn); err != nil {
				panic(err)
			}
		}
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			for _, tag := range []string{"json", "form", "uri"} {
				name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
				if name != "" && name != "-" {
					return name
				}
			}
			return fld.Name
		})
	})

	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		var validationErrors []ValidationError
		for _, ginErr := range c.Errors {
			var errs validator.ValidationErrors
			if !errors.As(ginErr.Err, &errs) {
				continue
			}
			for _, e := range errs {
				msg := config.CustomErrorMessages[e.Tag()]
				if msg == "" {
					msg = e.Error()
				}
				validationErrors = append(validationErrors, ValidationError{
					Field:   e.Field(),
					Message: msg,
				})
			}
		}

		if len(validationErrors) > 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, &handler.Response{
				Status:  "error",
				Message: "validation failed",
				Data:    validationErrors,
			})
		}
	}
}
