package main

import (
	"context"
	"log"
	"time"

	oconf "github.com/opst/shipfab/pkg/configs/orchestrator"
	"github.com/opst/shipfab/pkg/domain/sync/controller"
	"github.com/opst/shipfab/pkg/loop"
)

type LoggerOptions func(*log.Logger) *log.Logger

func byLogger(l *log.Logger, opt ...LoggerOptions) *log.Logger {
	for _, o := range opt {
		l = o(l)
	}
	return l
}

func Copied() LoggerOptions {
	return func(l *log.Logger) *log.Logger {
		return log.New(l.Writer(), l.Prefix(), l.Flags())
	}
}

func WithPrefix(pre string) LoggerOptions {
	return func(l *log.Logger) *log.Logger {
		l.SetPrefix(pre)
		return l
	}
}

// Wrapper for monitoring loop tasks
//
//	Log the start and end of each time a task is executed. Essentially, it executes a task.
func monitor[T any](logger *log.Logger, task loop.Task[T]) loop.Task[T] {
	// counter for execution of the task
	var counter uint64
	return func(ctx context.Context, t T) (ret T, next loop.Next) {
		counter += 1
		timestamp := time.Now()

		logger.Printf("task start: #0x%X: ", counter)

		// log at the end of the task
		defer func() {
			logger.Printf(
				"task end: #0x%X (takes %s): %s",
				counter, time.Since(timestamp), next,
			)
		}()

		ret, next = task(ctx, t)
		return
	}
}

// Start reconciliation loop.
//
// Each pass reads the manifest head and drives the cluster back to it when
// something else has moved the workload meanwhile. Passes are skipped while a
// deployment holds the cluster.
//
// Args:
//
// - ctx
//
// - logger : logger for monitoring loop.
//
// - syncs : the controller driving deployments. It must be the same instance,
// so that reconciliation stands back while a drive is in flight.
//
// - policy : its poll interval is the reconciliation cadence.
func StartReconcileLoop(
	ctx context.Context,
	logger *log.Logger,
	syncs controller.Controller,
	policy *oconf.SyncPolicyConfig,
) error {
	l := byLogger(logger, Copied(), WithPrefix("[reconcile loop]"))
	_, err := loop.Start(
		ctx, struct{}{},
		monitor(
			l,
			func(ctx context.Context, s struct{}) (struct{}, loop.Next) {
				if err := syncs.Reconcile(ctx); err != nil && ctx.Err() == nil {
					l.Printf("reconciliation pass failed: %s", err)
				}
				return s, loop.Continue(policy.Interval())
			},
		),
	)
	return err
}
