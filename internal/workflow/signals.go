// Copyright (C) 2021-2025 Intel Corporation
// SPDX-License-Identifier: BSD-3-Clause

package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// configureSignalHandler returns a context that is cancelled when SIGINT or
// SIGTERM is received. Commands started by components are killed through the
// cancelled context. statusFunc, if not nil, reports the shutdown.
func configureSignalHandler(parent context.Context, statusFunc func(string)) (context.Context, func()) {
	sigChannel := make(chan os.Signal, 1)
	signal.Notify(sigChannel, syscall.SIGINT, syscall.SIGTERM)
	ctx, stop := cancelOnSignal(parent, sigChannel, statusFunc)
	return ctx, func() {
		signal.Stop(sigChannel)
		stop()
	}
}

func cancelOnSignal(parent context.Context, sigChannel <-chan os.Signal, statusFunc func(string)) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(parent)
	done := make(chan struct{})
	go func() {
		select {
		case sig := <-sigChannel:
			slog.Info("received signal", slog.String("signal", sig.String()))
			if statusFunc != nil {
				statusFunc("Signal received, cleaning up...")
			}
			cancel(fmt.Errorf("received signal %s: %w", sig, context.Canceled))
		case <-done:
		case <-ctx.Done():
		}
	}()
	return ctx, func() {
		close(done)
		cancel(nil)
	}
}
