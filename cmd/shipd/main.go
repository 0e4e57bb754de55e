package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/opst/shipfab/cmd/shipd/handlers"
	apievents "github.com/opst/shipfab/pkg/api/types/events"
	oconf "github.com/opst/shipfab/pkg/configs/orchestrator"
	"github.com/opst/shipfab/pkg/domain"
	"github.com/opst/shipfab/pkg/domain/build/coordinator"
	"github.com/opst/shipfab/pkg/domain/eventlog/notifier"
	"github.com/opst/shipfab/pkg/domain/health/verifier"
	"github.com/opst/shipfab/pkg/domain/manifest/updater"
	"github.com/opst/shipfab/pkg/domain/orchestrator"
	"github.com/opst/shipfab/pkg/domain/rollback/manager"
	"github.com/opst/shipfab/pkg/domain/shipfab"
	"github.com/opst/shipfab/pkg/domain/sync/controller"
	"github.com/opst/shipfab/pkg/utils/echoutil"
	"github.com/opst/shipfab/pkg/utils/filewatch"
	kstrings "github.com/opst/shipfab/pkg/utils/strings"
	"github.com/opst/shipfab/pkg/utils/try"
)

func main() {
	logger := log.Default()
	ctx, cancel := signal.NotifyContext(
		context.Background(), os.Interrupt, os.Kill, syscall.SIGTERM,
	)
	// call cancel() when this function exits
	defer cancel()

	// define command line flags
	pconfig := flag.String(
		"config", os.Getenv("SHIPD_CONFIG"), "path to config file",
	)
	pSchemaRepo := flag.String(
		"schema-repo", os.Getenv("SHIPD_SCHEMA"), "schema repository path",
	)
	ploglevel := flag.String("loglevel", "info", "log level. debug|info|warn|error|off")
	pcert := flag.String("cert", "", "certification file for TLS")
	pkey := flag.String("certkey", "", "key of certification file for TLS")
	flag.Parse()

	{
		// watch config. when it is edited this process quits, and the
		// supervisor brings up a new one reading the new config.
		wctx, cancel, err := filewatch.UntilModifyContext(ctx, *pconfig)
		if err != nil {
			logger.Fatal(err)
		}
		defer cancel()
		ctx = wctx
	}

	conf := try.To(oconf.LoadOrchestratorConfig(*pconfig)).OrFatal(logger)

	ship := try.To(shipfab.Default(
		ctx, conf, shipfab.WithSchemaRepository(*pSchemaRepo),
	)).OrFatal(logger)
	defer ship.Close()

	{
		db := ship.Schema().Database()
		sctx, scancel := db.Context(ctx)
		defer scancel()
		ctx = sctx
	}

	// assemble the pipeline services
	builds := coordinator.New(ship.Build(), conf.Registry(), conf.Pipeline().Build())
	update := updater.New(ship.Manifest())
	syncs := controller.New(
		conf.Cluster().App(), ship.App(), ship.Manifest().Database(), conf.Pipeline().Sync(),
	)
	health := verifier.New(
		conf.Pipeline().Health(), conf.Pipeline().Sync(),
		func(ctx context.Context) (domain.ProbeSample, error) {
			app, err := ship.App().Observe(ctx)
			if err != nil {
				return domain.ProbeSample{}, err
			}
			return app.Sample(), nil
		},
	)
	rollbacks := manager.New(ship.Manifest())

	notify := try.To(notifier.New[apievents.Event](conf.Notifier())).OrFatal(logger)

	pipeline := orchestrator.New(
		byLogger(logger, Copied(), WithPrefix("[pipeline]")),
		ship.Deployment(), ship.Manifest(), ship.EventLog(),
		builds, update, syncs, health, rollbacks,
		orchestrator.SinkFunc(func(ev domain.TransitionEvent) {
			notify.Publish(apievents.ComposeEvent(ev))
		}),
		conf.Pipeline().Queue(),
	)

	go func() {
		if err := pipeline.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("pipeline stopped: %s", err)
		}
	}()
	go func() {
		stats, err := notify.Run(ctx, byLogger(logger, Copied(), WithPrefix("[notifier]")))
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("notifier stopped: %s", err)
		}
		logger.Printf(
			"notifications: delivered %d, failed %d, dropped %d",
			stats.Delivered, stats.Failed, notify.Dropped(),
		)
	}()
	go func() {
		err := StartReconcileLoop(ctx, logger, syncs, conf.Pipeline().Sync())
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Printf("reconcile loop stopped: %s", err)
		}
	}()

	e := echo.New()
	e.Pre(middleware.AddTrailingSlash())

	// set log
	echoutil.SetLevel(e, *ploglevel)
	e.HTTPErrorHandler = func(err error, ctx echo.Context) {
		e.DefaultHTTPErrorHandler(err, ctx)
		e.Logger.Error(err)
	}
	e.Use(echoutil.LogHandlerFunc)

	api := root("/api")

	// handlers
	{
		e.POST(api("hooks/push"), handlers.PushHookHandler(pipeline, conf.Trigger()))
	}

	{
		revision := "revision"
		e.GET(api("deployments"), handlers.FindDeploymentHandler(ship.Deployment().Database()))
		e.GET(
			api("deployments/:revision/"),
			handlers.GetDeploymentsForRevisionHandler(ship.Deployment().Database(), revision),
		)
		e.GET(
			api("deployments/:revision/events"),
			handlers.GetEventsForRevisionHandler(ship.EventLog().Database(), revision),
		)
	}

	{
		e.GET(api("manifests"), handlers.ManifestHistoryHandler(ship.Manifest().Database()))
		e.GET(api("manifests/head"), handlers.ManifestHeadHandler(ship.Manifest().Database()))
	}

	{
		e.GET(api("events"), handlers.FindEventHandler(ship.EventLog().Database()))
	}

	log.Println("registred routes:")
	for _, r := range e.Routes() {
		log.Println(r.Method, r.Path)
	}

	// take the server down with the loops, whatever cancelled ctx.
	context.AfterFunc(ctx, func() {
		graceful, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := e.Shutdown(graceful); err != nil {
			logger.Printf("error on shutdown: %s", err)
		}
	})

	cert, key := *pcert, *pkey
	if cert != "" && key != "" {
		e.Logger.Fatal(e.StartTLS(fmt.Sprintf(":%d", conf.Port()), cert, key))
	} else {
		e.Logger.Fatal(e.Start(fmt.Sprintf(":%d", conf.Port())))
	}
}

// create api URL factory
//
// args:
//   - root: api root path
//
// return:
// - func: it receive relative path from root, and returns full-path of URL.
func root(r string) func(...string) string {
	base := kstrings.SupplySuffix(r, "/")
	return func(s ...string) string {
		parts := make([]string, len(s)+1)
		parts[0] = base
		copy(parts[1:], s)
		p := path.Join(parts...)
		p = kstrings.TrimPrefixAll(p, "/")

		return kstrings.SupplySuffix("/"+p, "/")
	}
}
