package middleware

import (
	"errors"
	"net/http"

	"loyalty-checkin/pkg/errutil"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Error renders the last handler error. errutil.BaseError keeps its status;
// anything else becomes an internal error.
func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		last := c.Errors.Last()
		if last == nil || c.Writer.Written() {
			return
		}

		var be errutil.BaseError
		if !errors.As(last.Err, &be) {
			be = errutil.Internal("internal error", last.Err).(errutil.BaseError)
		}

		status := be.Code.HTTPStatus()
		if status >= http.StatusInternalServerError {
			span := trace.SpanFromContext(c.Request.Context())
			zap.L().Error("request failed",
				zap.String("trace_id", span.SpanContext().TraceID().String()),
				zap.String("path", c.FullPath()),
				zap.Error(last.Err),
			)
		}
		c.JSON(status, be.JSON())
	}
}

func Abort(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}
