package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"starchat/internal/logging"
	"starchat/internal/server"
)

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := setup(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	srv := server.New(rt.cfg.Server.Addr, rt.service, rt.store)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rt.book.Watch(ctx)
	})
	g.Go(func() error {
		return rt.service.RunSummaryWorker(ctx)
	})
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logging.Get(logging.CategoryServer).Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}
