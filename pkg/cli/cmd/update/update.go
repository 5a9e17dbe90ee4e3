/* Copyright 2025 Carebook Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package update

import (
	"context"

	"github.com/carebook/carebook/pkg/cli/appctx"
	"github.com/carebook/carebook/pkg/cli/cmd/create"
	"github.com/carebook/carebook/pkg/cli/infra"
	"github.com/carebook/carebook/pkg/cli/notify"
	"github.com/carebook/carebook/pkg/cli/offline"
	"github.com/carebook/carebook/pkg/cli/validate"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var example = `
 * Record an allergy
 carebook update patients /patients/p-1 --data '{"allergies": "penicillin"}'`

var dataFlag string

// NewCmd returns a new update command
func NewCmd(ctx appctx.Ctx) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "update <table> <endpoint>",
		Aliases: []string{"u"},
		Short:   "Update a resource, queued while offline",
		Example: example,
		Args:    cobra.ExactArgs(2),
		RunE:    newRun(ctx),
	}

	f := cmd.Flags()
	f.StringVarP(&dataFlag, "data", "d", "", "the JSON fields to change (read from stdin if omitted)")

	return cmd
}

func newRun(ctx appctx.Ctx) infra.RunEFunc {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate.Write(args[0], args[1]); err != nil {
			return err
		}

		payload, err := create.ReadPayload(dataFlag)
		if err != nil {
			return err
		}

		svc, err := offline.New(ctx, notify.Console{})
		if err != nil {
			return errors.Wrap(err, "initializing")
		}

		c := context.Background()
		svc.Probe(c)

		res, err := svc.Update(c, args[0], args[1], payload)
		if err != nil {
			return errors.Wrap(err, "updating")
		}

		return create.PrintResult(res, "updated")
	}
}
