package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/psantana5/ffqueue/internal/fakemaster"
	"github.com/psantana5/ffqueue/pkg/logging"
	"github.com/psantana5/ffqueue/pkg/shutdown"
	tlsutil "github.com/psantana5/ffqueue/pkg/tls"
)

func main() {
	port := flag.String("port", "8080", "Listen port")
	jobs := flag.Int("jobs", 40, "Number of demo jobs to seed")
	seed := flag.Uint64("seed", 1, "Random seed for demo jobs")
	tick := flag.Duration("tick", time.Second, "Simulated worker tick (0 disables the worker)")
	increment := flag.Float64("increment", 7, "Progress added per tick")
	useTLS := flag.Bool("tls", false, "Serve HTTPS")
	certFile := flag.String("cert", "certs/fakemaster.crt", "TLS certificate file")
	keyFile := flag.String("key", "certs/fakemaster.key", "TLS key file")
	certHosts := flag.String("cert-hosts", "", "Comma-separated extra hostnames or IPs for a generated certificate")
	apiKey := flag.String("api-key", os.Getenv("FFQUEUE_API_KEY"), "Require this bearer token (default: FFQUEUE_API_KEY)")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logJSON := flag.Bool("log-json", false, "Log as JSON")
	flag.Parse()

	logger := logging.NewLogger(logging.ParseLevel(*logLevel), *logJSON).WithField("component", "fakemaster")

	q := fakemaster.NewQueue()
	q.Seed(fakemaster.DemoJobs(*jobs, time.Now().UnixMilli(), *seed)...)

	opts := []fakemaster.Option{fakemaster.WithServerLogger(logger)}
	if *apiKey != "" {
		opts = append(opts, fakemaster.WithAPIKey(*apiKey))
		logger.Info("API key authentication enabled")
	}
	fm := fakemaster.NewServer(q, opts...)

	srv := &http.Server{
		Addr:         ":" + *port,
		Handler:      fm.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if *useTLS {
		if _, err := os.Stat(*certFile); os.IsNotExist(err) {
			logger.Info("certificate not found, generating a self-signed one", map[string]interface{}{"cert": *certFile})
			var hosts []string
			if *certHosts != "" {
				hosts = strings.Split(*certHosts, ",")
			}
			if err := tlsutil.GenerateSelfSignedCert(*certFile, *keyFile, "fakemaster", hosts...); err != nil {
				logger.Error("failed to generate certificate", map[string]interface{}{"error": err.Error()})
				os.Exit(1)
			}
		}
		tlsConfig, err := tlsutil.LoadServerConfig(*certFile, *keyFile)
		if err != nil {
			logger.Error("failed to load TLS config", map[string]interface{}{"error": err.Error()})
			os.Exit(1)
		}
		srv.TLSConfig = tlsConfig
	}

	mgr := shutdown.New(10*time.Second, logger)
	ctx, stop := mgr.Context(context.Background())
	defer stop()

	mgr.Register("http server", shutdown.StopHTTPServer(srv))
	mgr.Register("event subscribers", func(context.Context) error {
		fm.Close()
		return nil
	})

	if *tick > 0 {
		go fm.Simulate(ctx, *tick, *increment)
	}

	go func() {
		logger.Info("fake master listening", map[string]interface{}{"addr": srv.Addr, "tls": *useTLS, "jobs": *jobs})
		var err error
		if *useTLS {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", map[string]interface{}{"error": err.Error()})
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	if err := mgr.Shutdown(); err != nil {
		os.Exit(1)
	}
}
