package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/gemwire/gemini"
	"github.com/gemwire/gemini/certificate"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a directory over Gemini",
	Long: `Serve the files under the configured root on every configured
listener. Directories are answered with their index.gmi.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.String("root", "", "directory to serve")
	f.String("cert-dir", "", "directory of <host>.crt/<host>.key pairs, reloaded on change")
	f.Int("workers", 0, "handler goroutines (0 for one per CPU)")
	f.Duration("handler-timeout", 0, "answer 40 when a request takes longer than this")

	_ = viper.BindPFlag("root", f.Lookup("root"))
	_ = viper.BindPFlag("cert_dir", f.Lookup("cert-dir"))
	_ = viper.BindPFlag("workers", f.Lookup("workers"))
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	provider, shutdown, err := startTracing(ctx)
	if err != nil {
		return err
	}
	defer shutdown()

	var handler gemini.Handler = gemini.FileServer(cfg.Root)
	if d, _ := cmd.Flags().GetDuration("handler-timeout"); d > 0 {
		handler = gemini.TimeoutHandler(handler, d)
	}
	mux := &gemini.ServeMux{}
	mux.Handle("/", handler)

	var store *certificate.Store
	if cfg.CertDir != "" {
		store = &certificate.Store{}
		if err := store.Load(cfg.CertDir); err != nil {
			return fmt.Errorf("loading certificates: %w", err)
		}
		store.Register("*")
		go func() {
			if err := store.Watch(ctx, certificate.WatchOptions{Logger: logger}); err != nil {
				logger.Error(err, "certificate watcher stopped")
			}
		}()
	}

	if len(cfg.Listeners) == 0 {
		return errors.New("no listeners configured")
	}
	var servers []*gemini.Server
	defer func() {
		for _, s := range servers {
			s.Close()
		}
	}()
	for _, l := range cfg.Listeners {
		var srv *gemini.Server
		if store != nil && (l.Key == "" || l.Cert == "") {
			srv = &gemini.Server{Addr: l.Addr(), Handler: mux}
		} else {
			srv, err = gemini.NewServer(l.Addr(), l.Key, l.Cert, mux)
			if err != nil {
				return err
			}
		}
		srv.Certificates = store
		srv.Workers = cfg.Workers
		srv.ReadTimeout = cfg.ReadTimeout
		srv.WriteTimeout = cfg.WriteTimeout
		srv.Logger = logger
		srv.Tracer = provider.Tracer()

		addr, err := srv.Start()
		if err != nil {
			return err
		}
		servers = append(servers, srv)
		logger.Info("listening", "addr", addr.String(), "root", cfg.Root)
	}

	<-ctx.Done()
	logger.Info("shutting down")
	done := make(chan struct{})
	go func() {
		for _, s := range servers {
			s.Close()
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		logger.Info("shutdown timed out")
	}
	servers = nil
	return nil
}
