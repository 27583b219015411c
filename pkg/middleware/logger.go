package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/andydunstall/tether/pkg/log"
)

type loggedRequest struct {
	Route           string      `json:"route"`
	Proto           string      `json:"proto"`
	Method          string      `json:"method"`
	Host            string      `json:"host"`
	Path            string      `json:"path"`
	ClientIP        string      `json:"client_ip"`
	RequestHeaders  http.Header `json:"request_headers"`
	ResponseHeaders http.Header `json:"response_headers"`
	Status          int         `json:"status"`
	BytesWritten    int         `json:"bytes_written"`
	Duration        string      `json:"duration"`
}

// NewLogger returns middleware that writes an access log record for each
// request to the '<subsystem>.access' logger.
//
// Health probes are not logged.
func NewLogger(conf log.AccessLogConfig, logger log.Logger) gin.HandlerFunc {
	logger = logger.WithSubsystem(logger.Subsystem() + ".access")
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		if c.Request.URL.Path == "/healthz" {
			return
		}

		req := &loggedRequest{
			Route:           c.FullPath(),
			Proto:           c.Request.Proto,
			Method:          c.Request.Method,
			Host:            c.Request.Host,
			Path:            c.Request.URL.Path,
			ClientIP:        c.ClientIP(),
			RequestHeaders:  conf.RequestHeaders.Filter(c.Request.Header),
			ResponseHeaders: conf.ResponseHeaders.Filter(c.Writer.Header()),
			Status:          c.Writer.Status(),
			BytesWritten:    max(c.Writer.Size(), 0),
			Duration:        time.Since(start).String(),
		}
		fields := []zap.Field{zap.Any("request", req)}
		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case req.Status >= http.StatusInternalServerError:
			logger.Warn("request", fields...)
		case conf.Disable:
			logger.Debug("request", fields...)
		default:
			logger.Info("request", fields...)
		}
	}
}
