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
	"github.com/openziti/hostctl/kernel/model"
	"github.com/spf13/cobra"
)

func init() {
	RootCmd.AddCommand(NewPowerCommand())
	RootCmd.AddCommand(NewServiceCommand())
}

func NewPowerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "power",
		Short: "Wake or shut down a host",
	}
	cmd.AddCommand(NewOperationCommand("on", "Wake a host (primary endpoint, then fallbacks)", model.OpPowerOn))
	cmd.AddCommand(NewOperationCommand("off", "Shut down a host", model.OpPowerOff))
	return cmd
}

func NewServiceCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Start or stop a service on a controlled host",
	}
	cmd.AddCommand(NewOperationCommand("start", "Start a service (its host must be online)", model.OpServiceStart))
	cmd.AddCommand(NewOperationCommand("stop", "Stop a service", model.OpServiceStop))
	return cmd
}
