// Command historycore runs the history subsystem of a replicated ledger
// node: the checkpoint publish pipeline and the catchup planner/verifier,
// fronted by a small JSON-RPC status surface, the way cmd/soroban-rpc runs
// its own subsystem behind a single cobra command.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ledgermint/historycore/internal/historycore/archive"
	localConfig "github.com/ledgermint/historycore/internal/historycore/config"
	"github.com/ledgermint/historycore/internal/historycore/journal"
	"github.com/ledgermint/historycore/internal/historycore/node"
	"github.com/ledgermint/historycore/internal/historycore/status"
)

const defaultShutdownGracePeriod = 10 * time.Second

func main() {
	v := viper.New()
	cmd := &cobra.Command{
		Use:   "historycore",
		Short: "Run the history subsystem (checkpoint publish and catchup) for a ledger node",
	}
	cfg := localConfig.Flags(cmd, v)
	cmd.RunE = func(_ *cobra.Command, _ []string) error {
		return run(v, cfg)
	}

	cmd.AddCommand(versionCommand())
	configCmd := &cobra.Command{Use: "config", Short: "Configuration file helpers"}
	configCmd.AddCommand(configInitCommand())
	cmd.AddCommand(configCmd)

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "could not run: %v\n", err)
		os.Exit(1)
	}
}

func versionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information and exit",
		Run: func(_ *cobra.Command, _ []string) {
			if localConfig.CommitHash == "" {
				fmt.Println("historycore dev")
				return
			}
			branch := localConfig.Branch
			if branch == "main" {
				branch = ""
			}
			fmt.Printf("historycore %s (%s) %s\n", localConfig.Version, localConfig.CommitHash, branch)
		},
	}
}

func configInitCommand() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starting TOML config file with every option at its default",
		RunE: func(_ *cobra.Command, _ []string) error {
			return localConfig.WriteDefault(out, localConfig.Default())
		},
	}
	cmd.Flags().StringVar(&out, "out", "historycore.toml", "path to write the generated config file to")
	return cmd
}

func run(v *viper.Viper, cfg *localConfig.Config) error {
	if err := localConfig.Load(v, cfg); err != nil {
		return err
	}

	logger := logrus.New()
	logger.SetLevel(cfg.LogLevel)
	if cfg.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	entry := logrus.NewEntry(logger)

	historyArchive, err := openArchive(cfg.HistoryArchiveURL, cfg.TmpRoot, entry)
	if err != nil {
		return fmt.Errorf("opening history archive: %w", err)
	}

	publishArchives := []archive.Archive{historyArchive}
	for _, u := range cfg.PublishArchiveURLs {
		a, err := openArchive(u, cfg.TmpRoot, entry)
		if err != nil {
			return fmt.Errorf("opening publish archive %s: %w", u, err)
		}
		publishArchives = append(publishArchives, a)
	}

	j := journal.New(node.NewPlaceholderCloseAlgorithm(uint64(time.Now().Unix())))

	daemon := node.MustNew(node.Config{
		Logger:          entry,
		Namespace:       "historycore",
		DBPath:          cfg.DBPath,
		ServerTag:       cfg.ServerTag,
		Frequency:       cfg.Frequency(),
		Archive:         historyArchive,
		PublishArchives: publishArchives,
		Merger:          j,
		Buckets:         j,
		Headers:         j,
		TxSource:        j,
		CloseAlgorithm:  j,
		TmpRoot:         cfg.TmpRoot,
		PublishRetries:  cfg.PublishRetries,
		PublishPeriod:   cfg.PublishPeriod,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go daemon.RunPublishLoop(ctx)

	router := status.NewRouter(daemon.LedgerManager(), daemon.Pipeline(), daemon.PrometheusRegistry(), entry)
	server := &http.Server{Addr: cfg.Endpoint, Handler: router}
	go func() {
		entry.WithField("endpoint", cfg.Endpoint).Info("serving history status")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			entry.WithError(err).Error("status server encountered fatal error")
		}
	}()

	var adminServer *http.Server
	if cfg.AdminEndpoint != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(daemon.PrometheusRegistry(), promhttp.HandlerOpts{}))
		mux.Handle("/debug/pprof/", http.DefaultServeMux)
		adminServer = &http.Server{Addr: cfg.AdminEndpoint, Handler: mux}
		go func() {
			if err := adminServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				entry.WithError(err).Error("admin server encountered fatal error")
			}
		}()
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	<-signals

	shutdownCtx, shutdownRelease := context.WithTimeout(context.Background(), defaultShutdownGracePeriod)
	defer shutdownRelease()

	router.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		entry.WithError(err).Error("error during status server shutdown")
	}
	if adminServer != nil {
		if err := adminServer.Shutdown(shutdownCtx); err != nil {
			entry.WithError(err).Error("error during admin server shutdown")
		}
	}
	if err := daemon.Close(); err != nil {
		entry.WithError(err).Error("error closing daemon")
	}
	return nil
}
