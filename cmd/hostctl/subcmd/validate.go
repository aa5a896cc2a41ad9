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
	"net/url"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/openziti/hostctl/kernel/loader"
	"github.com/openziti/hostctl/kernel/model"
	"github.com/openziti/hostctl/kernel/remote"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func init() {
	RootCmd.AddCommand(NewValidateCommand())
}

func NewValidateCommand() *cobra.Command {
	validateCmd := &ValidateCommand{}

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a controller configuration and print its resources and endpoint chains",
		RunE:  validateCmd.validate,
	}

	cmd.Flags().StringVarP(&validateCmd.ConfigPath, "config", "c", "", "path to YAML configuration file")
	cmd.Flags().BoolVar(&validateCmd.Quiet, "quiet", false, "only report problems")
	cmd.MarkFlagRequired("config")

	return cmd
}

type ValidateCommand struct {
	ConfigPath string
	Quiet      bool
}

func (v *ValidateCommand) validate(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(v.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	result, err := loader.ValidateConfigBytes(data)
	if err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	for _, w := range result.Warnings {
		logrus.Warnf("%s", w)
	}
	for _, e := range result.Errors {
		logrus.Errorf("%s", e)
	}
	if !result.IsValid() {
		return fmt.Errorf("configuration '%s' has %d error(s)", v.ConfigPath, len(result.Errors))
	}

	cfg, err := loader.LoadConfigBytes(data)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !v.Quiet {
		renderEndpoints(cmd, cfg)
	}
	logrus.Infof("configuration '%s' is valid: %d resource(s)", v.ConfigPath, len(cfg.Resources))
	return nil
}

func renderEndpoints(cmd *cobra.Command, cfg *model.Config) {
	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Resource", "Kind", "Requires", "Operation", "Deadline", "Role", "Transport", "Endpoint"})

	for _, r := range cfg.Resources {
		for _, kind := range model.OperationKinds() {
			op := r.Operation(kind)
			if op == nil {
				continue
			}
			deadline := op.Deadline.Or(model.DefaultStartDeadline)
			if kind.Direction() == model.DirectionStop {
				deadline = op.Deadline.Or(model.DefaultStopDeadline)
			}
			for i, ep := range op.Endpoints {
				scheme, _ := remote.SchemeOf(ep.Url)
				t.AppendRow(table.Row{r.Id, r.Kind, r.Requires, kind, deadline, remote.RoleOf(ep, i), scheme, redact(ep.Url)})
			}
		}
		t.AppendSeparator()
	}
	t.Render()
}

func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Redacted()
}
