package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/0xReLogic/recettes/internal/config"
	"github.com/0xReLogic/recettes/internal/logging"
	"github.com/0xReLogic/recettes/internal/mealdb/mealdbtest"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := &cli.Command{
		Name:  "mockmealdb",
		Usage: "In-memory stand-in for TheMealDB API, for local development",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Value:   8090,
				Usage:   "port to run the fake API on",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
				Usage: "log level",
			},
		},
		Action: run,
	}
	if err := cmd.Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd *cli.Command) error {
	logging.Init(config.LoggingConfig{Level: cmd.String("log-level")})
	logger := logging.L()

	h := mealdbtest.NewHandler(mealdbtest.Sample()...)
	mux := http.NewServeMux()
	mux.Handle(mealdbtest.APIPath+"/", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.Debug().Str("method", r.Method).Str("path", r.URL.Path).Str("query", r.URL.RawQuery).Msg("fake api request")
		h.ServeHTTP(w, r)
	}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, "OK")
	})

	port := int(cmd.Int("port"))
	srv := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(port)),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().
		Int("port", port).
		Str("base_url", fmt.Sprintf("http://localhost:%d%s", port, mealdbtest.APIPath)).
		Int("recipes", len(mealdbtest.Sample())).
		Msg("fake recipe api starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("fake recipe api failed: %w", err)
	}
	return nil
}
