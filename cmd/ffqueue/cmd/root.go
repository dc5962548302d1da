package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/psantana5/ffqueue/internal/fakemaster"
	"github.com/psantana5/ffqueue/pkg/backend"
	"github.com/psantana5/ffqueue/pkg/config"
	"github.com/psantana5/ffqueue/pkg/logging"
	"github.com/psantana5/ffqueue/pkg/messages"
	"github.com/psantana5/ffqueue/pkg/metrics"
	"github.com/psantana5/ffqueue/pkg/queueview"
	"github.com/psantana5/ffqueue/pkg/retry"
	tlsutil "github.com/psantana5/ffqueue/pkg/tls"
	"github.com/psantana5/ffqueue/pkg/tracing"
)

var (
	cfgFile      string
	outputFormat string
	demoJobs     int
)

var (
	cfg    config.Config
	logger *logging.Logger
)

var v = viper.New()

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "ffqueue",
	Short: "Inspect and control a transcoding queue",
	Long: `ffqueue is a command line client for the transcoding queue of a master
server. It lists, filters and sorts jobs, runs bulk commands and follows the
queue live.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Setup(v, cfgFile); err != nil {
			return err
		}
		var err error
		if cfg, err = config.Load(v); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		logger = logging.NewWriterLogger(os.Stderr, logging.ParseLevel(cfg.LogLevel), cfg.LogJSON).WithField("component", "ffqueue")
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is $HOME/.ffqueue/config.yaml)")
	flags.String("master", "", "master API URL (default from config or http://localhost:8080)")
	flags.String("api-key", "", "API key sent as a bearer token")
	flags.String("lang", "", "language of user-facing messages (en, zh)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.String("ca-cert", "", "CA certificate trusted for an https master")
	flags.StringVarP(&outputFormat, "output", "o", "table", "output format: table, json or yaml")
	flags.IntVar(&demoJobs, "demo", 0, "run against an in-process demo master seeded with this many jobs")

	v.BindPFlag("master_url", flags.Lookup("master"))
	v.BindPFlag("api_key", flags.Lookup("api-key"))
	v.BindPFlag("language", flags.Lookup("lang"))
	v.BindPFlag("log_level", flags.Lookup("log-level"))
	v.BindPFlag("ca_cert", flags.Lookup("ca-cert"))
}

// session bundles everything a command needs to talk to the queue
type session struct {
	view     *queueview.View
	client   *backend.Client
	registry *prometheus.Registry
	metrics  *metrics.Recorder
	tracer   *tracing.Provider
	demo     *fakemaster.Server
	closers  []func()
}

func (s *session) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

// startDemo serves a seeded fake master on a loopback port
func startDemo(ctx context.Context, n int) (*fakemaster.Server, string, func(), error) {
	q := fakemaster.NewQueue()
	q.Seed(fakemaster.DemoJobs(n, time.Now().UnixMilli(), uint64(n))...)
	fm := fakemaster.NewServer(q, fakemaster.WithServerLogger(logger.WithField("component", "demo-master")))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, "", nil, fmt.Errorf("demo listener: %w", err)
	}
	srv := &http.Server{Handler: fm.Handler(), ReadHeaderTimeout: 5 * time.Second}
	go srv.Serve(ln)

	simCtx, cancel := context.WithCancel(ctx)
	go fm.Simulate(simCtx, 500*time.Millisecond, 9)

	stop := func() {
		cancel()
		fm.Close()
		shutdownCtx, done := context.WithTimeout(context.Background(), 2*time.Second)
		defer done()
		srv.Shutdown(shutdownCtx)
	}
	logger.Info("demo master started", map[string]interface{}{"url": "http://" + ln.Addr().String(), "jobs": n})
	return fm, "http://" + ln.Addr().String(), stop, nil
}

// newSession connects to the configured master (or a demo one) and builds
// a view over it
func newSession(ctx context.Context, viewCfg queueview.Config) (*session, error) {
	s := &session{registry: prometheus.NewRegistry()}

	rec, err := metrics.NewRecorder(s.registry)
	if err != nil {
		return nil, err
	}
	s.metrics = rec

	s.tracer, err = tracing.InitTracer(ctx, tracing.Config{
		ServiceName:    "ffqueue",
		ServiceVersion: Version,
		OTLPEndpoint:   cfg.TracingEndpoint,
		Enabled:        cfg.TracingEndpoint != "",
	})
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.tracer.Shutdown(shutdownCtx)
	})

	masterURL := cfg.MasterURL
	if demoJobs > 0 {
		fm, url, stop, err := startDemo(ctx, demoJobs)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.demo, masterURL = fm, url
		s.closers = append(s.closers, stop)
	}

	httpClient := &http.Client{Timeout: cfg.RequestTimeout}
	tlsCfg, err := tlsutil.LoadClientConfig(cfg.CACert)
	if err != nil {
		s.Close()
		return nil, err
	}
	if tlsCfg != nil {
		httpClient.Transport = &http.Transport{TLSClientConfig: tlsCfg}
	}

	s.client = backend.NewClient(masterURL, cfg.APIKey,
		backend.WithHTTPClient(httpClient),
		backend.WithRetry(retry.DefaultConfig()),
		backend.WithClientLogger(logger),
		backend.WithTracer(s.tracer),
	)

	s.view = queueview.New(viewCfg,
		queueview.WithBackend(s.client),
		queueview.WithSubscriber(s.client),
		queueview.WithLogger(logger),
		queueview.WithMetrics(s.metrics),
		queueview.WithTracer(s.tracer),
		queueview.WithTranslator(messages.New(cfg.Language)),
	)
	s.closers = append(s.closers, s.view.Close)
	return s, nil
}

// load opens a session and fetches one snapshot
func load(ctx context.Context, viewCfg queueview.Config) (*session, error) {
	s, err := newSession(ctx, viewCfg)
	if err != nil {
		return nil, err
	}
	if err := s.view.Refresh(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}
