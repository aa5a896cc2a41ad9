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

	"github.com/openziti/hostctl/kernel/api"
	"github.com/openziti/hostctl/kernel/loader"
	"github.com/openziti/hostctl/kernel/mcp"
	"github.com/openziti/hostctl/kernel/metrics"
	"github.com/openziti/hostctl/kernel/store"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func init() {
	RootCmd.AddCommand(NewMCPServerCommand())
}

func NewMCPServerCommand() *cobra.Command {
	mcpCmd := &MCPServerCommand{}

	cmd := &cobra.Command{
		Use:   "mcp-server",
		Short: "Start an MCP server exposing the controller to AI assistants",
		Long: `Start an MCP (Model Context Protocol) server on stdio. By default it forwards to a
running controller's HTTP API; with --config it runs its own controller in-process.

The server provides tools for:
  - list_resources: List every controlled host and service with its state
  - get_state: Get one resource's state, pending operation and remaining timeout
  - request_operation: Request power_on, power_off, service_start or service_stop

And resources:
  - hostctl://status: Current state of all resources`,
		RunE: mcpCmd.run,
	}

	cmd.Flags().StringVarP(&mcpCmd.Server, "server", "s", api.DefaultServer, "controller api address")
	cmd.Flags().StringVarP(&mcpCmd.ConfigPath, "config", "c", "", "run an in-process controller from this configuration instead")

	return cmd
}

type MCPServerCommand struct {
	Server     string
	ConfigPath string
}

func (m *MCPServerCommand) run(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	backend, err := m.backend(ctx)
	if err != nil {
		return err
	}
	logrus.Info("starting MCP server on stdio...")
	server := mcp.NewHostctlMCPServer(backend)
	return server.ServeStdio()
}

// backend returns an api client, or with a config path an in-process controller polling until ctx is done.
func (m *MCPServerCommand) backend(ctx context.Context) (mcp.Backend, error) {
	if m.ConfigPath == "" {
		logrus.Infof("forwarding to controller at '%s'", m.Server)
		return api.NewClient(m.Server), nil
	}

	cfg, err := loader.LoadConfig(m.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	ctrl, err := newController(cfg, store.NewMemoryStore(), metrics.New())
	if err != nil {
		return nil, err
	}
	go func() {
		if err := ctrl.Run(ctx); err != nil {
			logrus.WithError(err).Error("in-process controller stopped")
		}
	}()
	logrus.Infof("in-process controller for %d resource(s)", len(cfg.Resources))
	return mcp.ControllerBackend{Controller: ctrl}, nil
}
