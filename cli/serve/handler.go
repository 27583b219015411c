package serve

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/andydunstall/tether/body"
	"github.com/andydunstall/tether/message"
	"github.com/andydunstall/tether/pkg/log"
	"github.com/andydunstall/tether/pkg/middleware"
	"github.com/andydunstall/tether/server"
	"github.com/andydunstall/tether/service"
)

// NewRouter returns the router serving the example routes:
//
//   - '/': Responds with 'Hello'
//   - '/status/:code': Responds with the given status code
//   - '/echo': Streams the request body and trailers back to the client
//   - '/trailers': Responds with a chunked body followed by trailers
func NewRouter(
	accessLog log.AccessLogConfig,
	metrics *middleware.Metrics,
	logger log.Logger,
) *gin.Engine {
	router := gin.New()

	router.Use(gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, err any) {
		if err == http.ErrAbortHandler {
			// Handled by the HTTP server to abort the response.
			panic(err)
		}
		logger.Error(
			"handler panic",
			zap.String("path", c.FullPath()),
			zap.Any("err", err),
		)
		c.AbortWithStatus(http.StatusInternalServerError)
	}))
	if metrics != nil {
		router.Use(metrics.Handler())
	}
	router.Use(middleware.NewLogger(accessLog, logger))

	router.GET("/", helloRoute)
	router.Any("/status/:code", statusRoute)
	router.Any("/echo", gin.WrapH(server.NewServiceHandler(
		service.Func[*message.Request[*body.Incoming], *message.Response](echo),
		logger,
	)))
	router.GET("/trailers", gin.WrapH(server.NewServiceHandler(
		service.Func[*message.Request[*body.Incoming], *message.Response](trailers),
		logger,
	)))

	return router
}

func helloRoute(c *gin.Context) {
	c.String(http.StatusOK, "Hello")
}

func statusRoute(c *gin.Context) {
	code, err := strconv.Atoi(c.Param("code"))
	if err != nil || code < 200 || code > 599 {
		c.String(http.StatusBadRequest, "invalid status code: %s", c.Param("code"))
		return
	}
	c.String(code, "%d %s", code, http.StatusText(code))
}

func echo(
	_ context.Context,
	req *message.Request[*body.Incoming],
) (*message.Response, error) {
	resp := message.NewResponse(http.StatusOK, req.Body)
	if contentType := req.Header.Get("Content-Type"); contentType != "" {
		resp.Header.Set("Content-Type", contentType)
	}
	return resp, nil
}

func trailers(
	_ context.Context,
	req *message.Request[*body.Incoming],
) (*message.Response, error) {
	if err := req.Body.Close(); err != nil {
		return nil, fmt.Errorf("close request body: %w", err)
	}

	resp := message.NewResponse(http.StatusOK, body.NewChunks(
		[][]byte{[]byte("hello "), []byte("world")},
		http.Header{"Tether-Status": []string{"done"}},
	))
	resp.Header.Set("Content-Type", "text/plain")
	return resp, nil
}
