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

package outbox

import (
	"fmt"

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
  carebook outbox`

// NewCmd returns a new outbox command
func NewCmd(ctx appctx.Ctx) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "outbox",
		Aliases: []string{"o"},
		Short:   "List writes waiting to be sent",
		Example: example,
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

		ops, err := svc.Outbox().List()
		if err != nil {
			return errors.Wrap(err, "listing queued writes")
		}

		if len(ops) == 0 {
			log.Info("outbox is empty\n")
			return nil
		}

		now := ctx.Clock.Now()
		for _, op := range ops {
			fmt.Println(output.Operation(op, now))
		}

		return nil
	}
}
