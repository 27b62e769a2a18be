package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/dan-solli/mnemo/pkg/engine"
)

// ProjectHeader carries the project scope of a request. The project query parameter is the fallback.
const ProjectHeader = "X-Project"

type errorBody struct {
	Code    engine.Code    `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// envelope is the body of every API response.
type envelope struct {
	Data  any            `json:"data"`
	Error *errorBody     `json:"error"`
	Meta  map[string]any `json:"meta,omitempty"`
}

func ok(c *gin.Context, status int, data any, meta map[string]any) {
	c.JSON(status, envelope{Data: data, Meta: meta})
}

func list[T any](c *gin.Context, items []T) {
	if items == nil {
		items = []T{}
	}
	ok(c, http.StatusOK, items, map[string]any{"count": len(items)})
}

func fail(c *gin.Context, err error) {
	e := engine.AsError(err)
	c.AbortWithStatusJSON(statusFor(e.Code), envelope{
		Error: &errorBody{Code: e.Code, Message: e.Message, Details: e.Details},
	})
}

func badRequest(c *gin.Context, format string, args ...any) {
	fail(c, engine.NewValidationError(format, args...))
}

// bindError reports a request body that failed decoding or binding validation.
func bindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fe.Field())
		}
		fail(c, &engine.Error{
			Code:    engine.CodeValidation,
			Message: "invalid request body",
			Details: map[string]any{"fields": fields},
			Err:     err,
		})
		return
	}
	badRequest(c, "invalid request body: %v", err)
}

func statusFor(code engine.Code) int {
	switch code {
	case engine.CodeValidation:
		return http.StatusBadRequest
	case engine.CodeNotFound:
		return http.StatusNotFound
	case engine.CodeConflict:
		return http.StatusConflict
	case engine.CodeLockedByEnv:
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}

func project(c *gin.Context) string {
	if p := strings.TrimSpace(c.GetHeader(ProjectHeader)); p != "" {
		return p
	}
	return strings.TrimSpace(c.Query("project"))
}

// queryInt parses an optional integer query parameter. It reports false after writing a 400.
func queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		badRequest(c, "%s must be an integer", name)
		return 0, false
	}
	return n, true
}

func queryBool(c *gin.Context, name string) (bool, bool) {
	raw := c.Query(name)
	if raw == "" {
		return false, true
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		badRequest(c, "%s must be a boolean", name)
		return false, false
	}
	return b, true
}

func queryTime(c *gin.Context, name string) (*time.Time, bool) {
	raw := c.Query(name)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		badRequest(c, "%s must be an RFC 3339 timestamp", name)
		return nil, false
	}
	return &t, true
}

// queryList accepts repeated parameters and comma-separated values.
func queryList(c *gin.Context, name string) []string {
	var out []string
	for _, raw := range c.QueryArray(name) {
		for _, v := range strings.Split(raw, ",") {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
	}
	return out
}
