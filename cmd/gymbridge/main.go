package main

import (
	"context"
	"fmt"
	"image/png"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wippyai/gym-bridge/capi/cpython"
	"github.com/wippyai/gym-bridge/config"
	"github.com/wippyai/gym-bridge/env"
	"github.com/wippyai/gym-bridge/python"
	"github.com/wippyai/gym-bridge/space"
	"github.com/wippyai/gym-bridge/transport"
)

var (
	configFile string
	logLevel   string
	envName    string
	seed       int64
	episodes   int
	maxSteps   int
	tui        bool
	framePath  string
	addr       string
	serverURL  string
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "gymbridge",
		Short:        "drive gymnasium environments from Go",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override log.level")
	rootCmd.PersistentFlags().StringVar(&envName, "env", "", "override env.name")
	rootCmd.PersistentFlags().Int64Var(&seed, "seed", -1, "seed for the first reset (negative keeps env.seed)")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "play episodes with random actions in an embedded interpreter",
		RunE:  runLocal,
	}
	addEpisodeFlags(runCmd)
	runCmd.Flags().BoolVar(&tui, "tui", false, "interactive terminal view")

	remoteCmd := &cobra.Command{
		Use:   "remote",
		Short: "play episodes against a gymbridge server",
		RunE:  runRemote,
	}
	addEpisodeFlags(remoteCmd)
	remoteCmd.Flags().BoolVar(&tui, "tui", false, "interactive terminal view")
	remoteCmd.Flags().StringVar(&serverURL, "url", "", "server URL (default ws://<transport.addr>/env)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "serve an environment over websocket",
		RunE:  serve,
	}
	serveCmd.Flags().StringVar(&addr, "addr", "", "override transport.addr")

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "print the environment's spaces and array layouts",
		RunE:  info,
	}

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "configuration helpers",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "init [path]",
		Short: "write the default configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Save(args[0], config.DefaultConfig()); err != nil {
				return err
			}
			fmt.Printf("wrote %s\n", args[0])
			return nil
		},
	})

	rootCmd.AddCommand(runCmd, remoteCmd, serveCmd, infoCmd, configCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addEpisodeFlags(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&episodes, "episodes", "n", 5, "number of episodes")
	cmd.Flags().IntVar(&maxSteps, "max-steps", 0, "step cap per episode (0 = none)")
	cmd.Flags().StringVar(&framePath, "frame", "", "write the last rendered frame to this PNG")
}

func loadConfig() (*config.Config, error) {
	cfg := config.DefaultConfig()
	if configFile != "" {
		var err error
		if cfg, err = config.Load(configFile); err != nil {
			return nil, err
		}
	} else {
		cfg.ApplyEnv()
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if envName != "" {
		cfg.Env.Name = envName
	}
	if seed >= 0 {
		cfg.Env.Seed = &seed
	}
	if addr != "" {
		cfg.Transport.Addr = addr
	}
	if serverURL != "" {
		cfg.Transport.URL = serverURL
	}
	return cfg, cfg.Validate()
}

// setup loads the configuration and installs the logger in every package.
func setup(quiet bool) (*config.Config, *zap.Logger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if quiet && cfg.Log.File == "" {
		// The TUI owns the terminal.
		cfg.Log.Level = "error"
	}
	log, err := cfg.Log.Logger()
	if err != nil {
		return nil, nil, err
	}
	python.SetLogger(log.Named("python"))
	space.SetLogger(log.Named("space"))
	env.SetLogger(log.Named("env"))
	transport.SetLogger(log.Named("transport"))
	return cfg, log, nil
}

// startHost starts the interpreter and returns a function that finalizes it.
func startHost(ctx context.Context, cfg *config.Config) (*python.Host, func(), error) {
	api, err := cpython.New()
	if err != nil {
		return nil, nil, err
	}
	pc := cfg.Python.Host()
	if err := pc.Validate(); err != nil {
		return nil, nil, err
	}
	h := python.New(api, pc)
	if err := h.Init(ctx); err != nil {
		return nil, nil, err
	}
	python.SetDefault(h)
	return h, func() {
		if err := h.Finalize(context.Background()); err != nil {
			python.Logger().Warn("finalize", zap.Error(err))
		}
	}, nil
}

func makeSession(ctx context.Context, h *python.Host, cfg *config.Config, m *env.Metrics) (*env.Session, error) {
	opts, err := cfg.Env.Options(m)
	if err != nil {
		return nil, err
	}
	return env.Make(ctx, h, cfg.Env.Name, opts...)
}

func runLocal(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, log, err := setup(tui)
	if err != nil {
		return err
	}
	defer log.Sync()

	h, finalize, err := startHost(ctx, cfg)
	if err != nil {
		return err
	}
	defer finalize()

	s, err := makeSession(ctx, h, cfg, nil)
	if err != nil {
		return err
	}
	return play(ctx, cfg.Env.Name, localDriver{s: s}, log)
}

func runRemote(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, log, err := setup(tui)
	if err != nil {
		return err
	}
	defer log.Sync()

	tc := cfg.Transport.Client()
	c, err := transport.Dial(ctx, tc)
	if err != nil {
		return err
	}
	return play(ctx, tc.URL, remoteDriver{c: c}, log)
}

func play(ctx context.Context, title string, d driver, log *zap.Logger) (err error) {
	defer func() {
		if cerr := d.Close(context.Background()); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if tui {
		return runTUI(ctx, title, d)
	}

	eps, err := runEpisodes(ctx, d, episodes, maxSteps, log)
	if err != nil {
		return err
	}
	printEpisodes(eps)
	if framePath != "" {
		return writeFrame(ctx, d, framePath)
	}
	return nil
}

func printEpisodes(eps []episode) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "EPISODE\tSTEPS\tRETURN\tEND")
	returns := make([]float64, len(eps))
	for i, ep := range eps {
		fmt.Fprintf(w, "%d\t%d\t%.2f\t%s\n", i+1, ep.Steps, ep.Return, ep.Reason)
		returns[i] = ep.Return
	}
	w.Flush()

	if len(returns) > 1 {
		fmt.Println()
		fmt.Println(asciigraph.Plot(returns,
			asciigraph.Height(10),
			asciigraph.Width(plotWidth()),
			asciigraph.Caption("episode return"),
		))
	}
}

func writeFrame(ctx context.Context, d driver, path string) error {
	img, err := d.Render(ctx)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func serve(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, log, err := setup(false)
	if err != nil {
		return err
	}
	defer log.Sync()

	h, finalize, err := startHost(ctx, cfg)
	if err != nil {
		return err
	}
	defer finalize()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	s, err := makeSession(ctx, h, cfg, env.NewMetrics(reg))
	if err != nil {
		return err
	}
	defer s.Close(context.Background())

	mux := http.NewServeMux()
	mux.Handle(config.DefaultPath, transport.NewServer(s, transport.WithServerMetrics(transport.NewMetrics(reg, "server"))))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              cfg.Transport.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	log.Info("serving environment",
		zap.String("env", cfg.Env.Name),
		zap.String("addr", cfg.Transport.Addr),
		zap.String("path", config.DefaultPath))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func info(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	cfg, log, err := setup(false)
	if err != nil {
		return err
	}
	defer log.Sync()

	h, finalize, err := startHost(ctx, cfg)
	if err != nil {
		return err
	}
	defer finalize()

	s, err := makeSession(ctx, h, cfg, nil)
	if err != nil {
		return err
	}
	defer s.Close(ctx)

	act, obs, err := localDriver{s: s}.Spaces(ctx)
	if err != nil {
		return err
	}
	if _, _, err := s.Reset(ctx); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "env\t%s\n", s.Name())
	fmt.Fprintf(w, "action space\t%s (%s)\n", act, s.ActionKind())
	fmt.Fprintf(w, "observation space\t%s\n", obs)
	if m, ok := s.StateMetadata(); ok {
		fmt.Fprintf(w, "state\t%s\n", m)
	} else if s.DiscreteObservation() {
		fmt.Fprintf(w, "state\tscalar int64\n")
	}
	if _, err := s.RenderFrame(ctx); err == nil {
		if m, ok := s.FrameMetadata(); ok {
			fmt.Fprintf(w, "frame\t%s\n", m)
		}
	} else {
		fmt.Fprintf(w, "frame\tunavailable (%v)\n", err)
	}
	return w.Flush()
}
