// Command dcrwtclientd runs the watchtower client as a standalone plugin
// process: it speaks the line-delimited JSON-RPC protocol of spec.md §6 on
// stdin/stdout, persists tower state under the configured data directory,
// and drives the retry engine for any tower with pending appointments.
//
// Shaped after the teacher's lnd.go Main/signal-handling structure, reduced
// to what a single-binary stdio plugin needs: no listener config, no TLS,
// no RPC server beyond the plugin protocol itself.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	dcrwtclient "github.com/decred/dcrwtclient"
	"github.com/decred/dcrwtclient/config"
	"github.com/decred/dcrwtclient/rpcplugin"
	"github.com/decred/dcrwtclient/wtclient"
	"github.com/decred/dcrwtclient/wtdb"
	"github.com/decred/dcrwtclient/wthttp"
	"github.com/decred/dcrwtclient/wtretry"
)

const appName = "dcrwtclientd"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Default()
	if err != nil {
		return err
	}

	if err := wtdb.EnsureDataDir(cfg.DataDir); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	dcrwtclient.InitLogging(filepath.Join(cfg.DataDir, "logs", appName+".log"))

	store, err := wtdb.OpenBoltStore(filepath.Join(cfg.DataDir, "watchtowers.db"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	client, err := wtclient.New(store)
	if err != nil {
		return fmt.Errorf("initialize watchtower client: %w", err)
	}

	sender := wtclient.NewHTTPSender()
	retrier := wtretry.New(client, sender, cfg.MaxRetryTime, cfg.MaxRetryInterval)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	retrierDone := make(chan struct{})
	go func() {
		defer close(retrierDone)
		retrier.ManageRetry(ctx, client.UnreachableTower)
	}()

	plugin := rpcplugin.NewPlugin(os.Stdin, os.Stdout)
	service := &rpcplugin.Service{
		Client: client,
		HTTP:   wthttp.NewClient(),
		Sender: sender,
		Cfg:    cfg,
	}
	service.RegisterAll(plugin)

	runErr := plugin.Run(ctx)
	stop()
	<-retrierDone

	return runErr
}
