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

package get

import (
	"context"
	"os"

	"github.com/carebook/carebook/pkg/cli/appctx"
	"github.com/carebook/carebook/pkg/cli/infra"
	"github.com/carebook/carebook/pkg/cli/log"
	"github.com/carebook/carebook/pkg/cli/notify"
	"github.com/carebook/carebook/pkg/cli/offline"
	"github.com/carebook/carebook/pkg/cli/output"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var example = `
 * List patients
 carebook get /patients

 * View a patient
 carebook get /patients/p-1

 * List the visits of a patient
 carebook get /patients/p-1/visits`

// NewCmd returns a new get command
func NewCmd(ctx appctx.Ctx) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "get <path>",
		Aliases: []string{"g"},
		Short:   "Read resources, from the cache when offline",
		Example: example,
		Args:    cobra.ExactArgs(1),
		RunE:    newRun(ctx),
	}

	return cmd
}

func newRun(ctx appctx.Ctx) infra.RunEFunc {
	return func(cmd *cobra.Command, args []string) error {
		svc, err := offline.New(ctx, notify.Console{})
		if err != nil {
			return errors.Wrap(err, "initializing")
		}

		c := context.Background()
		svc.Probe(c)

		res, err := svc.Fetch(c, args[0])
		if err != nil {
			return errors.Wrapf(err, "reading %s", args[0])
		}

		if res.FromCache {
			log.Warnf("offline: showing cached data\n")
		}

		return output.Records(os.Stdout, res.Records)
	}
}
