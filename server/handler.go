package server

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/andydunstall/tether/body"
	"github.com/andydunstall/tether/message"
	"github.com/andydunstall/tether/pkg/log"
	"github.com/andydunstall/tether/service"
	"go.uber.org/zap"
)

// Service handles inbound requests.
type Service = service.Service[*message.Request[*body.Incoming], *message.Response]

// ServiceHandler adapts a Service to an http.Handler.
//
// The response body is streamed to the client as each chunk is produced and
// any trailers are sent once the body is exhausted.
type ServiceHandler struct {
	svc    Service
	logger log.Logger
}

func NewServiceHandler(svc Service, logger log.Logger) *ServiceHandler {
	return &ServiceHandler{
		svc:    svc,
		logger: logger.WithSubsystem("server"),
	}
}

func (h *ServiceHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.With(
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
	)

	ctx := r.Context()
	if err := h.svc.Ready(ctx); err != nil {
		logger.Warn("service not ready", zap.Error(err))
		if err := errorResponse(
			w, http.StatusServiceUnavailable, "service unavailable",
		); err != nil {
			logger.Warn("failed to write error response", zap.Error(err))
		}
		return
	}

	resp, err := h.svc.Call(ctx, message.FromHTTPRequest(r))
	if err != nil {
		logger.Warn("service failed", zap.Error(err))
		if err := errorResponse(
			w, http.StatusInternalServerError, "internal error",
		); err != nil {
			logger.Warn("failed to write error response", zap.Error(err))
		}
		return
	}
	defer resp.Body.Close()

	rc := http.NewResponseController(w)
	// Allows streaming responses that read the request body. Only HTTP/1.1
	// requires opting in.
	_ = rc.EnableFullDuplex()

	for k, v := range resp.Header {
		w.Header()[k] = v
	}
	w.WriteHeader(resp.StatusCode)

	for {
		chunk, err := resp.Body.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			// The status has already been sent so abort the response.
			logger.Warn("failed to read response body", zap.Error(err))
			panic(http.ErrAbortHandler)
		}
		if _, err := w.Write(chunk); err != nil {
			logger.Debug("failed to write response body", zap.Error(err))
			return
		}
		_ = rc.Flush()
	}

	trailers, err := resp.Body.Trailers()
	if err != nil {
		logger.Warn("failed to read response trailers", zap.Error(err))
		panic(http.ErrAbortHandler)
	}
	for k, v := range trailers {
		w.Header()[http.TrailerPrefix+k] = v
	}
}

type errorMessage struct {
	Error string `json:"error"`
}

func errorResponse(w http.ResponseWriter, statusCode int, message string) error {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(statusCode)

	m := &errorMessage{
		Error: message,
	}
	return json.NewEncoder(w).Encode(m)
}

var _ http.Handler = &ServiceHandler{}
