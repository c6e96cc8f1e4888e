package http

import (
	stderrors "errors"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/example/helpdesk/internal/errs"
)

var statusByKind = map[errs.Kind]int{
	errs.KindNotFound:          http.StatusNotFound,
	errs.KindUnauthorized:      http.StatusForbidden,
	errs.KindForbidden:         http.StatusForbidden,
	errs.KindInvalidTransition: http.StatusUnprocessableEntity,
	errs.KindValidation:        http.StatusBadRequest,
	errs.KindConflict:          http.StatusConflict,
	errs.KindUnauthenticated:   http.StatusUnauthorized,
}

// StatusFor maps an error to its HTTP status.
func StatusFor(err error) int {
	if code, ok := statusByKind[errs.KindOf(err)]; ok {
		return code
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(c *gin.Context, err error) {
	kind := errs.KindOf(err)
	code := StatusFor(err)
	body := gin.H{"error": err.Error(), "kind": kind}
	if fields := errs.Fields(err); len(fields) > 0 {
		body["errors"] = fields
	}
	if kind == errs.KindInternal {
		s.log.WithError(err).WithField("path", c.FullPath()).Error("internal error")
		body["error"] = "internal server error"
	}
	c.AbortWithStatusJSON(code, body)
}

// bindError turns gin binding failures into validation errors so they are
// reported with the same shape as engine validation.
func bindError(err error) error {
	var verrs validator.ValidationErrors
	if !stderrors.As(err, &verrs) {
		return &errs.ValidationError{Fields: []errs.FieldError{{Field: "body", Message: err.Error()}}}
	}
	fields := make([]errs.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, errs.FieldError{Field: fe.Field(), Message: fieldMessage(fe)})
	}
	return &errs.ValidationError{Fields: fields}
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "oneof":
		return fe.Field() + " must be one of: " + fe.Param()
	case "max":
		return fe.Field() + " must be at most " + fe.Param() + " characters"
	default:
		return fe.Field() + " is invalid"
	}
}

var tagNamesOnce sync.Once

// registerValidatorTagNames makes validation errors report json/form names.
func registerValidatorTagNames() {
	tagNamesOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			for _, tag := range []string{"json", "form"} {
				name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
				if name != "" && name != "-" {
					return name
				}
			}
			return f.Name
		})
	})
}
