// Package reqid stamps every inbound RPC request with a unique id, the way
// adaptive_retrieval.go's RequestID option threads one id through a whole
// request's log lines. Here the id is minted with google/uuid instead of
// being supplied by the caller, since shard and controller RPC callers
// never pass one.
package reqid

import (
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// HeaderName is the response header carrying the generated id, so a caller
// correlating logs across a shard and the controller can read it back.
const HeaderName = "X-Request-Id"

// contextKey is unexported to keep reqid.FromContext the only accessor.
type contextKey struct{}

// Middleware generates a uuid for each request, stores it on the
// echo.Context and echoes it back as a response header. It does not add
// the id to any logger.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			id := uuid.New().String()
			c.Set(contextKey{}.String(), id)
			c.Response().Header().Set(HeaderName, id)
			return next(c)
		}
	}
}

// contextKey.String exists only so Middleware/FromContext share one literal
// without exporting the key type itself.
func (contextKey) String() string { return "voxharbor_request_id" }

// FromContext returns the id stamped on c by Middleware, or "" if it was
// never installed on this echo instance.
func FromContext(c echo.Context) string {
	v := c.Get(contextKey{}.String())
	id, _ := v.(string)
	return id
}
