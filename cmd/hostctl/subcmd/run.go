/*
	(c) Copyright NetFoundry Inc. Inc.

	Licensed under the Apache License, Version 2.0 (the "License");
	you may not use this file except in compliance with the License.
	You may obtain a copy of the License at

	https://www.apache.org/licenses/LICENSE-2.0

	Unless required by applicable law or agreed to in writing, software
	distributed under the License is distributed on an "AS IS" BASIS,
	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
	See the License for the specific language governing permissions and
	limitations under the License.
*/

package subcmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/openziti/hostctl/kernel/api"
	"github.com/openziti/hostctl/kernel/engine"
	"github.com/openziti/hostctl/kernel/history"
	"github.com/openziti/hostctl/kernel/loader"
	"github.com/openziti/hostctl/kernel/metrics"
	"github.com/openziti/hostctl/kernel/model"
	"github.com/openziti/hostctl/kernel/remote"
	"github.com/openziti/hostctl/kernel/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func init() {
	RootCmd.AddCommand(NewRunCommand())
}

func NewRunCommand() *cobra.Command {
	runCmd := &RunCommand{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the controller daemon and its HTTP API",
		Long: `Run the controller: every configured resource starts in 'unknown' and is
normalized by the first successful status poll. Operation requests arrive over
the HTTP API (and the MCP server, which talks to that API).`,
		RunE: runCmd.run,
	}

	cmd.Flags().StringVarP(&runCmd.ConfigPath, "config", "c", "", "path to YAML configuration file")
	cmd.Flags().StringVar(&runCmd.Listen, "listen", "", "override api.listen")
	cmd.MarkFlagRequired("config")

	return cmd
}

type RunCommand struct {
	ConfigPath string
	Listen     string
}

func (r *RunCommand) run(cmd *cobra.Command, args []string) error {
	cfg, err := loader.LoadConfig(r.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if r.Listen != "" {
		cfg.Api.Listen = r.Listen
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return runDaemon(ctx, cfg)
}

func runDaemon(ctx context.Context, cfg *model.Config) error {
	m := metrics.New()
	s := store.NewMemoryStore()

	ctrl, err := newController(cfg, s, m)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return ctrl.Run(ctx) })
	g.Go(func() error { return api.NewServer(ctrl, m).Run(ctx, cfg.Api.Listen) })

	if cfg.Controller.StateFile != "" {
		fs := store.NewFileStore(cfg.Controller.StateFile)
		logrus.Infof("persisting snapshots to '%s'", cfg.Controller.StateFile)
		g.Go(func() error { return fs.Track(ctx, s) })
	}

	if cfg.Influx != nil {
		recorder, closeInflux := history.NewInfluxRecorder(cfg.Influx)
		defer closeInflux()
		transitions, unsubscribe := ctrl.Subscribe(256)
		defer unsubscribe()
		logrus.Infof("recording transitions to influx bucket '%s'", cfg.Influx.Bucket)
		g.Go(func() error { return recorder.Run(ctx, transitions) })
	}

	logrus.Infof("controlling %d resource(s), api on '%s'", len(cfg.Resources), cfg.Api.Listen)
	return g.Wait()
}

// newController wires the configured endpoint chains and status queries into a controller over s.
func newController(cfg *model.Config, s store.ResourceStore, m *metrics.Metrics) (*engine.Controller, error) {
	ctrl, err := engine.NewController(cfg, s, remote.NewDispatcher(cfg, m), remote.NewStatusProber(cfg), engine.Options{
		Metrics: m,
		Workers: cfg.Controller.Workers,
		Tick:    cfg.Controller.Tick.Std(),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create controller: %w", err)
	}
	return ctrl, nil
}
