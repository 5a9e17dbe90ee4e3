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

package status

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/carebook/carebook/pkg/cli/appctx"
	"github.com/carebook/carebook/pkg/cli/consts"
	"github.com/carebook/carebook/pkg/cli/database"
	"github.com/carebook/carebook/pkg/cli/infra"
	"github.com/carebook/carebook/pkg/cli/notify"
	"github.com/carebook/carebook/pkg/cli/offline"
	"github.com/carebook/carebook/pkg/cli/output"
	"github.com/carebook/carebook/pkg/cli/store"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var example = `
  carebook status`

// NewCmd returns a new status command
func NewCmd(ctx appctx.Ctx) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "status",
		Short:   "Show connectivity and the state of the local cache",
		Example: example,
		RunE:    newRun(ctx),
	}

	return cmd
}

type tableStatus struct {
	name         string
	count        int
	pending      int
	lastSyncedAt int64
}

func collect(s *store.Store) ([]tableStatus, error) {
	var ret []tableStatus

	for _, name := range database.TableNames() {
		count, err := s.Count(name)
		if err != nil {
			return nil, errors.Wrapf(err, "counting %s", name)
		}
		pending, err := s.CountPending(name)
		if err != nil {
			return nil, errors.Wrapf(err, "counting pending %s", name)
		}
		synced, err := s.LastSyncedAt(name)
		if err != nil {
			return nil, errors.Wrapf(err, "getting last sync of %s", name)
		}

		ret = append(ret, tableStatus{name: name, count: count, pending: pending, lastSyncedAt: synced})
	}

	return ret, nil
}

func printTables(w io.Writer, tables []tableStatus) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TABLE\tRECORDS\tPENDING\tLAST SYNCED")
	for _, t := range tables {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", t.name, t.count, t.pending, output.Time(t.lastSyncedAt))
	}

	return tw.Flush()
}

func newRun(ctx appctx.Ctx) infra.RunEFunc {
	return func(cmd *cobra.Command, args []string) error {
		svc, err := offline.New(ctx, notify.Console{})
		if err != nil {
			return errors.Wrap(err, "initializing")
		}

		svc.Probe(context.Background())

		tables, err := collect(svc.Store())
		if err != nil {
			return err
		}
		queued, err := svc.Outbox().Count()
		if err != nil {
			return errors.Wrap(err, "counting queued writes")
		}
		var lastDrain int64
		if err := database.GetSystem(ctx.DB, consts.SystemLastDrainAt, &lastDrain); err != nil {
			return errors.Wrap(err, "getting last drain time")
		}

		fmt.Printf("domain:     %s\n", ctx.Domain)
		fmt.Printf("server:     %s (%s)\n", ctx.APIEndpoint, svc.Monitor().State())
		fmt.Printf("queued:     %d\n", queued)
		fmt.Printf("last sync:  %s\n\n", output.Time(lastDrain))

		return printTables(os.Stdout, tables)
	}
}
