package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/openconfig/gnmi/proto/gnmi"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"

	"github.com/c-po/frr/bfd"
	"github.com/c-po/frr/server"
)

var (
	grpcAddress    = flag.String("grpc-address", ":57400", "gNMI northbound listen address")
	metricsAddress = flag.String("metrics-address", ":9342", "Prometheus metrics listen address, empty disables")
	logLevel       = flag.String("log-level", "info", "Log level: debug, info, warn, error")
	sessionLimit   = flag.Int("session-limit", 0, "Maximum number of BFD sessions, 0 means unlimited")
)

func main() {
	flag.Parse()
	if err := configureLogging(*logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var opts []bfd.ServerOption
	if *sessionLimit > 0 {
		opts = append(opts, bfd.WithSessionLimit(*sessionLimit))
	}
	bs := bfd.NewServer(opts...)
	srv := server.New(bs)

	ln, err := net.Listen("tcp", *grpcAddress)
	if err != nil {
		slog.Error("bfdd: listen failed", "address", *grpcAddress, "err", err)
		os.Exit(1)
	}
	g := grpc.NewServer()
	gnmi.RegisterGNMIServer(g, srv)

	if *metricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(srv.Registry(), promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(*metricsAddress, mux); err != nil {
				slog.Error("bfdd: metrics server failed", "err", err)
			}
		}()
		slog.Info("bfdd: serving metrics", "address", *metricsAddress)
	}

	go func() {
		<-ctx.Done()
		slog.Info("bfdd: shutting down", "reason", ctx.Err())
		g.GracefulStop()
	}()

	slog.Info("bfdd: serving gNMI northbound", "address", *grpcAddress)
	if err := g.Serve(ln); err != nil {
		slog.Error("bfdd: grpc serve failed", "err", err)
		os.Exit(1)
	}
}

func configureLogging(level string) error {
	var l slog.Level
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		l = slog.LevelDebug
	case "info", "":
		l = slog.LevelInfo
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		return fmt.Errorf("%q: must be one of debug, info, warn, error", level)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
	return nil
}
