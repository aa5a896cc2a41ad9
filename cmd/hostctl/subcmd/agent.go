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
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/openziti/hostctl/kernel/agent"
	"github.com/openziti/hostctl/kernel/loader"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func init() {
	RootCmd.AddCommand(NewAgentCommand())
}

func NewAgentCommand() *cobra.Command {
	agentCmd := &AgentCommand{}

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Run the host agent serving status, shutdown, wake relay and service endpoints",
		RunE:  agentCmd.run,
	}

	cmd.Flags().StringVarP(&agentCmd.ConfigPath, "config", "c", "", "path to agent YAML configuration file")
	cmd.Flags().StringVar(&agentCmd.Listen, "listen", "", "override listen address")
	cmd.MarkFlagRequired("config")

	return cmd
}

type AgentCommand struct {
	ConfigPath string
	Listen     string
}

func (a *AgentCommand) run(cmd *cobra.Command, args []string) error {
	cfg, err := loader.LoadAgentConfig(a.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load agent config: %w", err)
	}
	if a.Listen != "" {
		cfg.Listen = a.Listen
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logrus.Infof("agent serving %d service(s)", len(cfg.Services))
	return agent.New(cfg, agent.LocalRunner{}).Run(ctx)
}
