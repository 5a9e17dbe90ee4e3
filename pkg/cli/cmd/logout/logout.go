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

package logout

import (
	"context"

	"github.com/carebook/carebook/pkg/cli/appctx"
	"github.com/carebook/carebook/pkg/cli/infra"
	"github.com/carebook/carebook/pkg/cli/log"
	"github.com/carebook/carebook/pkg/cli/notify"
	"github.com/carebook/carebook/pkg/cli/offline"
	"github.com/carebook/carebook/pkg/cli/ui"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var example = `
  carebook logout`

var yesFlag bool

// NewCmd returns a new logout command
func NewCmd(ctx appctx.Ctx) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "logout",
		Short:   "Sign out and wipe the local cache",
		Example: example,
		RunE:    newRun(ctx),
	}

	f := cmd.Flags()
	f.BoolVarP(&yesFlag, "yes", "y", false, "discard queued writes without confirmation")

	return cmd
}

func newRun(ctx appctx.Ctx) infra.RunEFunc {
	return func(cmd *cobra.Command, args []string) error {
		svc, err := offline.New(ctx, notify.Console{})
		if err != nil {
			return errors.Wrap(err, "initializing")
		}

		queued, err := svc.Outbox().Count()
		if err != nil {
			return errors.Wrap(err, "counting queued writes")
		}
		if queued > 0 && !yesFlag {
			log.Warnf("%d queued writes have not reached the server and will be lost\n", queued)

			ok, err := ui.Confirm("log out anyway?", false)
			if err != nil {
				return errors.Wrap(err, "getting confirmation")
			}
			if !ok {
				return nil
			}
		}

		if err := svc.Logout(context.Background()); err != nil {
			return errors.Wrap(err, "logging out")
		}

		log.Success("logged out\n")

		return nil
	}
}
