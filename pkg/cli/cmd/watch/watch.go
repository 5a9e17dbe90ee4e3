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

package watch

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/carebook/carebook/pkg/cli/appctx"
	"github.com/carebook/carebook/pkg/cli/connectivity"
	"github.com/carebook/carebook/pkg/cli/infra"
	"github.com/carebook/carebook/pkg/cli/log"
	"github.com/carebook/carebook/pkg/cli/notify"
	"github.com/carebook/carebook/pkg/cli/offline"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var example = `
 * Keep the outbox draining, probing the server every 15 seconds
 carebook watch`

// NewCmd returns a new watch command
func NewCmd(ctx appctx.Ctx) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "watch",
		Aliases: []string{"w"},
		Short:   "Track connectivity and sync queued writes whenever the server is reachable",
		Example: example,
		RunE:    newRun(ctx),
	}

	return cmd
}

func onChange(s connectivity.State) {
	switch s {
	case connectivity.Offline:
		log.Warnf("offline\n")
	case connectivity.OnlineSyncing:
		log.Infof("syncing\n")
	case connectivity.OnlineIdle:
		log.Successf("online\n")
	}
}

func newRun(ctx appctx.Ctx) infra.RunEFunc {
	return func(cmd *cobra.Command, args []string) error {
		svc, err := offline.New(ctx, notify.Console{}, connectivity.OnChange(onChange))
		if err != nil {
			return errors.Wrap(err, "initializing")
		}

		c, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Infof("watching %s, press Ctrl+C to stop\n", ctx.APIEndpoint)

		err = svc.Run(c)
		if err != nil && errors.Cause(err) != context.Canceled {
			return errors.Wrap(err, "watching")
		}

		return nil
	}
}
