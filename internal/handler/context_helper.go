package handler

import (
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	appErrors "github.com/noah-isme/sqlclassroom-api/pkg/errors"
)

var validate = newValidator()

// newValidator reports fields by their JSON or form name.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, tag := range []string{"json", "form"} {
			name := strings.SplitN(f.Tag.Get(tag), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})
	return v
}

// bindJSON decodes and validates a JSON body. An empty body is accepted when
// allowEmpty is set and leaves dest untouched.
func bindJSON(c *gin.Context, dest interface{}, allowEmpty bool) error {
	if err := c.ShouldBindJSON(dest); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			return appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid request body")
		}
	}
	if err := validate.Struct(dest); err != nil {
		return validationError(err)
	}
	return nil
}

func validationError(err error) error {
	appErr := appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, appErrors.ErrValidation.Message)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		appErr.Message = verrs[0].Field() + " is " + verrs[0].Tag()
	}
	return appErr
}
