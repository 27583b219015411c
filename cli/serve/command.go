package serve

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-sockaddr"
	rungroup "github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	tetherconfig "github.com/andydunstall/tether/pkg/config"
	"github.com/andydunstall/tether/pkg/log"
	"github.com/andydunstall/tether/pkg/middleware"
	"github.com/andydunstall/tether/server"
	"github.com/andydunstall/tether/server/admin"
	"github.com/andydunstall/tether/server/config"
)

func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "start an example server",
		Long: `Start an example server.

The server accepts connections speaking HTTP/1.1, HTTP/2 with prior knowledge
or the multiplexed protocol, and serves the example routes:
- '/': Responds with 'Hello'
- '/status/:code': Responds with the given status code
- '/echo': Streams the request body and trailers back to the client
- '/trailers': Responds with a chunked body followed by trailers

When TLS is enabled, the protocol is negotiated using ALPN.

Use '--server.websocket.path' to also accept WebSocket connections. Clients
offering the 'tether-mux' subprotocol are served using the multiplexed
protocol.

The admin server exposes '/healthz', '/readyz' and '/metrics'.

Examples:
  # Start a server speaking HTTP/1.1.
  tether serve

  # Start a server speaking HTTP/2 with prior knowledge on :7000.
  tether serve --server.protocol http2 --server.bind-addr :7000

  # Start a server that also accepts WebSocket connections on '/ws'.
  tether serve --server.websocket.path /ws
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

		if conf.Server.AdvertiseAddr == "" {
			advertiseAddr, err := advertiseAddrFromBindAddr(conf.Server.BindAddr)
			if err != nil {
				logger.Error("invalid configuration", zap.Error(err))
				os.Exit(1)
			}
			conf.Server.AdvertiseAddr = advertiseAddr
		}
	}

	cmd.Run = func(_ *cobra.Command, _ []string) {
		if err := run(conf, logger); err != nil {
			logger.Error("failed to run server", zap.Error(err))
			os.Exit(1)
		}
	}

	return cmd
}

func run(conf *config.Config, logger log.Logger) error {
	logger.Info("starting tether server", zap.Any("conf", conf))

	registry := prometheus.NewRegistry()

	metrics := middleware.NewMetrics("server")
	metrics.Register(registry)

	router := NewRouter(conf.Server.AccessLog, metrics, logger)

	srv := server.NewServer(
		router,
		server.WithProtocol(conf.Server.ParsedProtocol()),
		server.WithMuxConfig(conf.Server.Mux),
		server.WithHTTPConfig(conf.Server.HTTP),
		server.WithLogger(logger),
	)
	if conf.Server.WebSocket.Path != "" {
		router.GET(conf.Server.WebSocket.Path, gin.WrapH(srv.WebSocketHandler()))
	}

	ln, err := listen(conf.Server.BindAddr, &conf.Server.TLS)
	if err != nil {
		return fmt.Errorf("server listen: %s: %w", conf.Server.BindAddr, err)
	}

	adminTLSConfig, err := conf.Admin.TLS.Load()
	if err != nil {
		return fmt.Errorf("admin tls: %w", err)
	}
	adminLn, err := net.Listen("tcp", conf.Admin.BindAddr)
	if err != nil {
		return fmt.Errorf("admin listen: %s: %w", conf.Admin.BindAddr, err)
	}
	adminServer := admin.NewServer(registry, adminTLSConfig, logger)
	adminServer.AddStatus("server", func() any {
		return srv.Status()
	})

	var group rungroup.Group

	// Termination handler.
	signalCtx, signalCancel := context.WithCancel(context.Background())
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	group.Add(func() error {
		select {
		case sig := <-signalCh:
			logger.Info(
				"received shutdown signal",
				zap.String("signal", sig.String()),
			)
			// Fail readiness checks while shutting down.
			adminServer.SetReady(false)
			return nil
		case <-signalCtx.Done():
			return nil
		}
	}, func(error) {
		signalCancel()
	})

	// Server.
	group.Add(func() error {
		logger.Info(
			"server listening",
			zap.String("advertise-addr", conf.Server.AdvertiseAddr),
		)
		adminServer.SetReady(true)
		if err := srv.Serve(ln); err != nil {
			return fmt.Errorf("server serve: %w", err)
		}
		return nil
	}, func(error) {
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			conf.GracePeriod,
		)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to gracefully shutdown server", zap.Error(err))
		}

		logger.Info("server shut down")
	})

	// Admin server.
	group.Add(func() error {
		if err := adminServer.Serve(adminLn); err != nil {
			return fmt.Errorf("admin server serve: %w", err)
		}
		return nil
	}, func(error) {
		shutdownCtx, cancel := context.WithTimeout(
			context.Background(),
			conf.GracePeriod,
		)
		defer cancel()

		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to gracefully shutdown admin server", zap.Error(err))
		}

		logger.Info("admin server shut down")
	})

	if err := group.Run(); err != nil {
		return err
	}

	logger.Info("shutdown complete")

	return nil
}

// listen listens on addr, wrapping the listener with TLS if enabled.
func listen(addr string, tlsConf *tetherconfig.TLSConfig) (net.Listener, error) {
	tlsConfig, err := tlsConf.Load()
	if err != nil {
		return nil, fmt.Errorf("tls: %w", err)
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	if tlsConfig != nil {
		ln = tls.NewListener(ln, tlsConfig)
	}
	return ln, nil
}

func advertiseAddrFromBindAddr(bindAddr string) (string, error) {
	if strings.HasPrefix(bindAddr, ":") {
		bindAddr = "0.0.0.0" + bindAddr
	}

	host, port, err := net.SplitHostPort(bindAddr)
	if err != nil {
		return "", fmt.Errorf("invalid bind addr: %s: %w", bindAddr, err)
	}

	if host == "0.0.0.0" {
		ip, err := sockaddr.GetPrivateIP()
		if err != nil {
			return "", fmt.Errorf("get interface addr: %w", err)
		}
		if ip == "" {
			return "", fmt.Errorf("no private ip found")
		}
		return ip + ":" + port, nil
	}
	return bindAddr, nil
}
