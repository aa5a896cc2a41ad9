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
	"time"

	"github.com/openziti/hostctl/kernel/api"
	"github.com/openziti/hostctl/kernel/model"
	"github.com/spf13/cobra"
)

func init() {
	RootCmd.AddCommand(NewWatchCommand())
}

func NewWatchCommand() *cobra.Command {
	watchCmd := &WatchCommand{}

	cmd := &cobra.Command{
		Use:   "watch [resource-id]",
		Short: "Stream state transitions from a running controller",
		Args:  cobra.MaximumNArgs(1),
		RunE:  watchCmd.watch,
	}

	cmd.Flags().StringVarP(&watchCmd.Server, "server", "s", api.DefaultServer, "controller api address")

	return cmd
}

type WatchCommand struct {
	Server string
}

func (w *WatchCommand) watch(cmd *cobra.Command, args []string) error {
	resourceId := ""
	if len(args) == 1 {
		resourceId = args[0]
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer cancel()

	out := cmd.OutOrStdout()
	return api.NewClient(w.Server).Events(ctx, resourceId, func(t model.Transition) {
		line := fmt.Sprintf("%s  %-12s %s -> %s (%s", t.At.Local().Format(time.DateTime), t.ResourceId, t.From, t.To, t.Cause)
		if t.Operation != "" {
			line += ", " + string(t.Operation)
		}
		fmt.Fprintln(out, line+")")
	})
}
