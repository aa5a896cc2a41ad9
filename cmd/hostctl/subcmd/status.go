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
	"encoding/json"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/openziti/hostctl/kernel/api"
	"github.com/openziti/hostctl/kernel/engine"
	"github.com/openziti/hostctl/kernel/model"
	"github.com/openziti/hostctl/kernel/store"
	"github.com/spf13/cobra"
)

func init() {
	RootCmd.AddCommand(NewStatusCommand())
}

func NewStatusCommand() *cobra.Command {
	statusCmd := &StatusCommand{}

	cmd := &cobra.Command{
		Use:   "status [resource-id]",
		Short: "Show the lifecycle state of controlled resources",
		Long: `Show resource states from a running controller (--server), or from the snapshot
file a controller persists (--state-file) when no controller is reachable.`,
		Args: cobra.MaximumNArgs(1),
		RunE: statusCmd.status,
	}

	cmd.Flags().StringVarP(&statusCmd.Server, "server", "s", api.DefaultServer, "controller api address")
	cmd.Flags().StringVar(&statusCmd.StateFile, "state-file", "", "read persisted snapshots instead of querying a controller")
	cmd.Flags().BoolVar(&statusCmd.Json, "json", false, "print json instead of a table")

	return cmd
}

type StatusCommand struct {
	Server    string
	StateFile string
	Json      bool
}

func (s *StatusCommand) status(cmd *cobra.Command, args []string) error {
	views, err := s.load(cmd)
	if err != nil {
		return err
	}
	if len(args) == 1 {
		var filtered []engine.StateView
		for _, v := range views {
			if v.ResourceId == args[0] {
				filtered = append(filtered, v)
			}
		}
		if len(filtered) == 0 {
			return fmt.Errorf("unknown resource '%s'", args[0])
		}
		views = filtered
	}

	if s.Json {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	}
	renderStates(cmd, views, time.Now())
	return nil
}

func (s *StatusCommand) load(cmd *cobra.Command) ([]engine.StateView, error) {
	if s.StateFile == "" {
		views, err := api.NewClient(s.Server).Resources(cmd.Context())
		if err != nil {
			return nil, fmt.Errorf("failed to query controller: %w", err)
		}
		return views, nil
	}

	snapshots, err := store.NewFileStore(s.StateFile).Load()
	if err != nil {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}
	views := make([]engine.StateView, 0, len(snapshots))
	for _, snap := range snapshots {
		views = append(views, engine.StateView{
			ResourceId:     snap.ResourceId,
			Kind:           snap.Kind,
			State:          snap.State,
			Pending:        snap.Pending,
			UpdatedAt:      snap.UpdatedAt,
			LastObserved:   snap.LastObserved,
			LastObservedAt: snap.LastObservedAt,
			LastPollError:  snap.LastPollError,
		})
	}
	return views, nil
}

func renderStates(cmd *cobra.Command, views []engine.StateView, now time.Time) {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Resource", "Kind", "State", "Pending", "Remaining", "Last Observed", "Updated"})

	for _, v := range views {
		pending, remaining := "", ""
		if v.Pending != nil {
			pending = string(v.Pending.Kind)
			remaining = v.Pending.Remaining(now).Round(time.Second).String()
		}
		observed := string(v.LastObserved)
		if v.LastPollError != "" {
			observed = "unreachable"
		}
		updated := ""
		if !v.UpdatedAt.IsZero() {
			updated = now.Sub(v.UpdatedAt).Round(time.Second).String() + " ago"
		}
		t.AppendRow(table.Row{v.ResourceId, v.Kind, stateLabel(v.State), pending, remaining, observed, updated})
	}
	t.Render()
}

func stateLabel(s model.State) string {
	switch s {
	case model.StateShuttingDown:
		return "shutting down"
	case model.StateUnknown:
		return "unknown (no baseline)"
	}
	return string(s)
}
