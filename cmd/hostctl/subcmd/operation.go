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
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/openziti/hostctl/kernel/api"
	"github.com/openziti/hostctl/kernel/engine"
	"github.com/openziti/hostctl/kernel/model"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const waitSlack = 10 * time.Second

// NewOperationCommand builds the leaf command that requests kind on the resource named by its argument.
func NewOperationCommand(use, short string, kind model.OperationKind) *cobra.Command {
	opCmd := &OperationCommand{Kind: kind}

	cmd := &cobra.Command{
		Use:   use + " <resource-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE:  opCmd.request,
	}

	cmd.Flags().StringVarP(&opCmd.Server, "server", "s", api.DefaultServer, "controller api address")
	cmd.Flags().BoolVarP(&opCmd.Wait, "wait", "w", false, "wait until the operation is confirmed or times out")
	cmd.Flags().DurationVar(&opCmd.WaitPoll, "wait-poll", time.Second, "state poll interval while waiting")
	if kind.Direction() == model.DirectionStop {
		cmd.Flags().BoolVarP(&opCmd.Yes, "yes", "y", false, "do not ask for confirmation")
	}

	return cmd
}

type OperationCommand struct {
	Kind     model.OperationKind
	Server   string
	Wait     bool
	WaitPoll time.Duration
	Yes      bool
}

func (o *OperationCommand) request(cmd *cobra.Command, args []string) error {
	resourceId := args[0]

	if o.Kind.Direction() == model.DirectionStop && !o.Yes {
		ok, err := confirm(cmd.InOrStdin(), cmd.ErrOrStderr(), fmt.Sprintf("%s [%s]?", o.Kind, resourceId))
		if err != nil {
			return err
		}
		if !ok {
			logrus.Infof("%s of [%s] cancelled", o.Kind, resourceId)
			return nil
		}
	}

	client := api.NewClient(o.Server)
	accepted, err := client.Request(cmd.Context(), resourceId, o.Kind)
	if accepted == nil {
		return fmt.Errorf("%s rejected: %w", o.Kind, err)
	}
	if errors.Is(err, engine.ErrAllEndpointsFailed) {
		logrus.Warnf("[%s] is %s but no endpoint accepted the command (%s); it will revert if not confirmed by %s",
			resourceId, accepted.State, accepted.DispatchError, accepted.Deadline.Local().Format(time.TimeOnly))
	} else if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s accepted for [%s]: %s (operation %s, %s endpoint %s)\n",
		o.Kind, resourceId, accepted.State, accepted.OperationId, accepted.Role, accepted.Endpoint)

	if !o.Wait {
		return nil
	}
	view, err := waitForResolution(cmd.Context(), client, accepted, o.WaitPoll)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "[%s] is %s\n", resourceId, view.State)
	if view.State != o.Kind.Edge().Target {
		return fmt.Errorf("%s of [%s] was not confirmed", o.Kind, resourceId)
	}
	return nil
}

// waitForResolution polls until the accepted operation is no longer pending.
func waitForResolution(ctx context.Context, client *api.Client, accepted *engine.Accepted, interval time.Duration) (engine.StateView, error) {
	ctx, cancel := context.WithDeadline(ctx, accepted.Deadline.Add(waitSlack))
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		view, err := client.State(ctx, accepted.ResourceId)
		if err != nil && ctx.Err() == nil {
			return view, err
		}
		if err == nil && (view.Pending == nil || view.Pending.Id != accepted.OperationId) {
			return view, nil
		}
		select {
		case <-ctx.Done():
			return view, errors.Errorf("gave up waiting for [%s] to resolve", accepted.ResourceId)
		case <-ticker.C:
		}
	}
}

func confirm(in io.Reader, out io.Writer, prompt string) (bool, error) {
	if f, ok := in.(*os.File); ok && !term.IsTerminal(int(f.Fd())) {
		return false, errors.New("stdin is not a terminal, pass --yes to confirm")
	}
	fmt.Fprintf(out, "%s [y/N]: ", prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}
