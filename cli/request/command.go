package request

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-yaml"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/andydunstall/tether/body"
	"github.com/andydunstall/tether/cli/request/config"
	"github.com/andydunstall/tether/client"
	"github.com/andydunstall/tether/message"
	tetherconfig "github.com/andydunstall/tether/pkg/config"
	"github.com/andydunstall/tether/pkg/log"
	"github.com/andydunstall/tether/protocol"
	"github.com/andydunstall/tether/retry"
	"github.com/andydunstall/tether/service"
	"github.com/andydunstall/tether/transport"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request [url]",
		Short: "send a request to a server",
		Args:  cobra.ExactArgs(1),
		Long: `Send a request to a server.

Opens a dedicated connection to the server, performs the protocol handshake and
sends a single request, then outputs the response.

The transport is selected by the URL scheme: 'http' uses TCP and 'https' uses
TLS. Use '--websocket' to connect using a WebSocket instead.

Requests that fail with a transport error or a 5xx response can be retried with
'--retry.attempts'.

Examples:
  # Send a GET request using HTTP/1.1.
  tether request http://localhost:8000

  # Send a POST request using HTTP/2 with prior knowledge.
  tether request http://localhost:8000/echo -X POST -d 'hello' --protocol http2

  # Send a request over a WebSocket using the multiplexed protocol, and output
  # the response status, headers and trailers.
  tether request http://localhost:8000/trailers --websocket ws://localhost:8000/ws -o yaml

  # Retry up to 3 times with a 100ms initial backoff.
  tether request http://localhost:8000/status/503 --retry.attempts 3 --retry.backoff 100ms
`,
	}

	conf := config.Default()
	var loadConf tetherconfig.Config

	// Register flags and set default values.
	conf.RegisterFlags(cmd.Flags())
	loadConf.RegisterFlags(cmd.Flags())

	var logger log.Logger

	cmd.PreRun = func(_ *cobra.Command, _ []string) {
		if loadConf.Path != "" {
			if err := tetherconfig.Load(conf, loadConf.Path, loadConf.ExpandEnv); err != nil {
				fmt.Printf("load config: %s\n", err.Error())
				os.Exit(1)
			}
		}

		if err := conf.Validate(); err != nil {
			fmt.Printf("invalid config: %s\n", err.Error())
			os.Exit(1)
		}

		var err error
		logger, err = log.NewLogger(conf.Log.Level, conf.Log.Subsystems)
		if err != nil {
			fmt.Printf("failed to setup logger: %s\n", err.Error())
			os.Exit(1)
		}
	}

	cmd.Run = func(_ *cobra.Command, args []string) {
		ctx, cancel := signal.NotifyContext(
			context.Background(), syscall.SIGINT, syscall.SIGTERM,
		)
		defer cancel()

		if err := run(ctx, conf, args[0], os.Stdout, logger); err != nil {
			logger.Error("request failed", zap.Error(err))
			fmt.Fprintf(os.Stderr, "request: %s\n", err.Error())
			os.Exit(1)
		}
	}

	return cmd
}

func run(
	ctx context.Context,
	conf *config.Config,
	target string,
	w io.Writer,
	logger log.Logger,
) error {
	if conf.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, conf.Timeout)
		defer cancel()
	}

	var resp *message.Response
	var conn io.Closer
	var err error
	if conf.ChunkSize == 0 {
		resp, conn, err = send(ctx, conf, target, body.NewString(conf.Data), logger)
	} else {
		resp, conn, err = send(ctx, conf, target, body.NewChunks(conf.Chunks(), nil), logger)
	}
	if err != nil {
		return err
	}
	defer conn.Close()
	defer resp.Close()

	return writeResponse(w, conf.Output, resp)
}

// send opens a connection to the server and sends a single request with the
// given body. The caller must close the returned connection once the response
// has been read.
func send[B body.Cloner[B]](
	ctx context.Context,
	conf *config.Config,
	target string,
	b B,
	logger log.Logger,
) (*message.Response, io.Closer, error) {
	header, err := conf.ParsedHeaders()
	if err != nil {
		return nil, nil, err
	}
	tlsConfig, err := conf.TLS.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("tls: %w", err)
	}

	var maker transport.Maker[transport.Destination]
	addr := target
	if conf.WebSocket != "" {
		maker = transport.NewWebSocketConnector(tlsConfig, nil)
		addr = conf.WebSocket
	} else {
		maker = transport.NewConnector(tlsConfig)
	}
	dst, err := transport.ParseDestination(addr)
	if err != nil {
		return nil, nil, err
	}

	var retryOpts []retry.Option
	if conf.Retry.Backoff > 0 {
		retryOpts = append(retryOpts, retry.WithBackoff(
			conf.Retry.Backoff, conf.Retry.EffectiveMaxBackoff(),
		))
	}
	retryOpts = append(retryOpts, retry.WithLogger(logger))

	var connect service.Service[transport.Destination, *client.Connection[B]]
	connect = client.NewConnect[transport.Destination, B](
		maker,
		client.WithBuilder(protocol.Builder{
			Protocol: conf.ParsedProtocol(),
			HTTP2:    conf.HTTP2,
			Mux:      conf.Mux,
			Logger:   logger,
		}),
		client.WithLogger(logger),
	)
	if conf.Retry.Attempts > 0 {
		connect = retry.New[transport.Destination, *client.Connection[B]](
			retry.NewConnectPolicy[transport.Destination, *client.Connection[B]](
				conf.Retry.Attempts,
			),
			connect,
			retryOpts...,
		)
	}

	conn, err := service.Oneshot(ctx, connect, dst)
	if err != nil {
		return nil, nil, err
	}

	logger.Debug(
		"connected",
		zap.String("id", conn.ID()),
		zap.String("destination", dst.String()),
		zap.String("protocol", conn.Protocol().String()),
	)

	req, err := message.NewRequest(conf.Method, target, b)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	if h := header.Get("Host"); h != "" {
		req.Host = h
		header.Del("Host")
	}
	for k, v := range header {
		req.Header[k] = v
	}

	var svc service.Service[*message.Request[B], *message.Response] = conn
	if conf.Retry.Attempts > 0 {
		svc = retry.New[*message.Request[B], *message.Response](
			retry.NewHTTPPolicy[B](conf.Retry.Attempts),
			svc,
			retryOpts...,
		)
	}

	resp, err := service.Oneshot(ctx, svc, req)
	if err != nil {
		conn.Close()
		return nil, nil, err
	}
	return resp, conn, nil
}

type outputResponse struct {
	Status   string      `yaml:"status"`
	Proto    string      `yaml:"proto"`
	Headers  http.Header `yaml:"headers,omitempty"`
	Body     string      `yaml:"body,omitempty"`
	Trailers http.Header `yaml:"trailers,omitempty"`
}

func writeResponse(w io.Writer, output string, resp *message.Response) error {
	data, trailers, err := body.Collect(resp.Body)
	if err != nil {
		return fmt.Errorf("read body: %w", err)
	}

	if output == "body" {
		_, err := w.Write(data)
		return err
	}

	b, err := yaml.Marshal(&outputResponse{
		Status:   resp.Status,
		Proto:    resp.Proto,
		Headers:  resp.Header,
		Body:     string(data),
		Trailers: trailers,
	})
	if err != nil {
		return fmt.Errorf("encode response: %w", err)
	}
	_, err = w.Write(b)
	return err
}
