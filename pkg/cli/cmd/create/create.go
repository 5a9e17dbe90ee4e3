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

// Package create implements the create command. Its payload parsing is shared
// with the update command.
package create

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/carebook/carebook/pkg/cli/appctx"
	"github.com/carebook/carebook/pkg/cli/infra"
	"github.com/carebook/carebook/pkg/cli/log"
	"github.com/carebook/carebook/pkg/cli/notify"
	"github.com/carebook/carebook/pkg/cli/offline"
	"github.com/carebook/carebook/pkg/cli/output"
	"github.com/carebook/carebook/pkg/cli/ui"
	"github.com/carebook/carebook/pkg/cli/validate"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var example = `
 * Register a patient
 carebook create patients /patients --data '{"name": "Ada"}'

 * Record a visit, reading the payload from stdin
 echo '{"reason": "fever"}' | carebook create visits /patients/p-1/visits`

var dataFlag string

// NewCmd returns a new create command
func NewCmd(ctx appctx.Ctx) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "create <table> <endpoint>",
		Aliases: []string{"c"},
		Short:   "Create a resource, queued while offline",
		Example: example,
		Args:    cobra.ExactArgs(2),
		RunE:    newRun(ctx),
	}

	f := cmd.Flags()
	f.StringVarP(&dataFlag, "data", "d", "", "the JSON payload (read from stdin if omitted)")

	return cmd
}

// ReadPayload decodes the JSON object given with --data, or piped to stdin
func ReadPayload(data string) (map[string]interface{}, error) {
	if data == "" {
		in, err := ui.ReadStdInput()
		if err != nil {
			return nil, errors.Wrap(err, "reading payload")
		}
		data = in
	}

	var ret map[string]interface{}
	dec := json.NewDecoder(strings.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&ret); err != nil {
		return nil, errors.Wrap(err, "payload must be a JSON object")
	}
	if ret == nil {
		return nil, errors.New("payload must be a JSON object")
	}

	return ret, nil
}

// PrintResult reports the outcome of a write
func PrintResult(res offline.WriteResult, verb string) error {
	if res.Queued {
		log.Warnf("offline: %s queued as #%d and will be sent on the next sync\n", verb, res.Op.ID)
	} else {
		log.Successf("%s\n", verb)
	}

	if res.Record == nil {
		return nil
	}

	return output.Records(os.Stdout, []map[string]interface{}{res.Record})
}

func newRun(ctx appctx.Ctx) infra.RunEFunc {
	return func(cmd *cobra.Command, args []string) error {
		if err := validate.Write(args[0], args[1]); err != nil {
			return err
		}

		payload, err := ReadPayload(dataFlag)
		if err != nil {
			return err
		}

		svc, err := offline.New(ctx, notify.Console{})
		if err != nil {
			return errors.Wrap(err, "initializing")
		}

		c := context.Background()
		svc.Probe(c)

		res, err := svc.Create(c, args[0], args[1], payload)
		if err != nil {
			return errors.Wrap(err, "creating")
		}

		return PrintResult(res, "created")
	}
}
