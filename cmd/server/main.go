package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ryandielhenn/zephyrdtn/discovery"
	"github.com/ryandielhenn/zephyrdtn/internal/config"
	"github.com/ryandielhenn/zephyrdtn/internal/logging"
	"github.com/ryandielhenn/zephyrdtn/internal/telemetry"
	"github.com/ryandielhenn/zephyrdtn/pkg/energy"
	"github.com/ryandielhenn/zephyrdtn/pkg/node"
	"github.com/ryandielhenn/zephyrdtn/pkg/sched"
	"github.com/ryandielhenn/zephyrdtn/pkg/transport"
)

var (
	version = "dev"
	gitSHA  = "unknown"
)

func main() {
	cfgPath := flag.String("config", os.Getenv("ZEPHYR_CONFIG"), "YAML config file")
	dev := flag.Bool("dev", false, "development logging")
	flag.Parse()

	// 1. Configuration: defaults, file, environment
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cfg.ApplyEnv(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if cfg.NodeID == "" {
		cfg.NodeID, _ = os.Hostname()
	}

	log, err := logging.New(cfg.LogLevel, *dev)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()
	log = log.With(zap.String("node", cfg.NodeID))

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg config.Config, log *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	telemetry.SetBuildInfo(version, gitSHA)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. QUIC transport and the address book etcd keeps current
	book := transport.NewBook()
	qt, err := transport.ListenQUIC(listenAddr(cfg.ListenAddr), cfg.NodeID, book, log)
	if err != nil {
		return err
	}
	defer qt.Close()
	go func() {
		if err := qt.Serve(ctx); err != nil && ctx.Err() == nil {
			log.Error("quic serve", zap.Error(err))
		}
	}()
	log.Info("quic listening", zap.Stringer("addr", qt.Addr()))

	// 3. Energy source; zero initial energy means mains powered
	var src energy.Source
	if cfg.InitialEnergy > 0 {
		b := energy.NewBattery(cfg.InitialEnergy)
		b.SetHarvestingRate(cfg.HarvestRate)
		src = b
	}

	// 4. Node on its event loop
	loop := sched.NewLoop(0)
	n, err := node.New(node.Options{
		Config:    cfg,
		Clock:     loop,
		Transport: qt,
		Energy:    src,
		Logger:    log,
		Exec:      loop.Do,
	})
	if err != nil {
		return err
	}
	loopDone := make(chan error, 1)
	go func() { loopDone <- loop.Run(ctx) }()
	if err := loop.Do(ctx, func() { n.Start(ctx) }); err != nil {
		return err
	}

	// 5. Discovery
	if len(cfg.EtcdEndpoints) > 0 {
		cancel, err := startDiscovery(ctx, cfg, book, log)
		if err != nil {
			return err
		}
		defer cancel()
	} else {
		log.Warn("no etcd endpoints, peers must be reached some other way")
	}

	// 6. HTTP status, send and metrics endpoints
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", n.Healthz)
	mux.Handle("/info", telemetry.Instrument("info", http.HandlerFunc(n.InfoHandler)))
	mux.Handle("/status", telemetry.Instrument("status", http.HandlerFunc(n.Status)))
	mux.Handle("/send/", telemetry.Instrument("send", http.HandlerFunc(n.SendHandler)))
	mux.Handle("/metrics", telemetry.MetricsHandler())

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	httpDone := make(chan error, 1)
	go func() { httpDone <- srv.ListenAndServe() }()
	log.Info("zephyrdtn node listening", zap.String("http", cfg.HTTPAddr))

	select {
	case <-ctx.Done():
	case err := <-httpDone:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case err := <-loopDone:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func startDiscovery(ctx context.Context, cfg config.Config, book *transport.Book, log *zap.Logger) (func(), error) {
	log.Info("creating etcd client", zap.Strings("endpoints", cfg.EtcdEndpoints))
	cli, err := discovery.NewClient(cfg.EtcdEndpoints, cfg.DialTimeout, log.Named("etcd"))
	if err != nil {
		return nil, err
	}
	reg := discovery.New(cli, cfg.EtcdPrefix, log)

	_, unregister, err := reg.RegisterNode(ctx, cfg.NodeID, cfg.ListenAddr, cfg.LeaseTTL)
	if err != nil {
		cli.Close()
		return nil, err
	}
	_, port, _ := net.SplitHostPort(cfg.ListenAddr)
	go func() {
		err := reg.WatchPeers(ctx, func(peers map[string]string) {
			book.Replace(peers, port)
			log.Info("peers updated", zap.Int("count", len(peers)))
		})
		if err != nil && ctx.Err() == nil {
			log.Error("watch peers", zap.Error(err))
		}
	}()
	return func() {
		unregister()
		cli.Close()
	}, nil
}

// listenAddr binds every interface on the advertised port.
func listenAddr(advertised string) string {
	_, port, err := net.SplitHostPort(advertised)
	if err != nil {
		return advertised
	}
	return net.JoinHostPort("", port)
}
