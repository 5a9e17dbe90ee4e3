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

package login

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/carebook/carebook/pkg/cli/appctx"
	"github.com/carebook/carebook/pkg/cli/consts"
	"github.com/carebook/carebook/pkg/cli/database"
	"github.com/carebook/carebook/pkg/cli/infra"
	"github.com/carebook/carebook/pkg/cli/log"
	"github.com/carebook/carebook/pkg/cli/ui"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var example = `
  carebook login
  carebook login --token <session token>`

var tokenFlag string

// NewCmd returns a new login command
func NewCmd(ctx appctx.Ctx) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "login",
		Short:   "Store the session token used to reach the server",
		Example: example,
		RunE:    newRun(ctx),
	}

	f := cmd.Flags()
	f.StringVar(&tokenFlag, "token", "", "the session token (prompted if omitted)")

	return cmd
}

// getServerDisplayURL returns the scheme and host of the API endpoint
func getServerDisplayURL(ctx appctx.Ctx) string {
	u, err := url.Parse(ctx.APIEndpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}

	return fmt.Sprintf("%s://%s", u.Scheme, u.Host)
}

// Do saves the session token
func Do(ctx appctx.Ctx, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("empty token")
	}

	if err := database.UpsertSystem(ctx.DB, consts.SystemSessionKey, token); err != nil {
		return errors.Wrap(err, "saving session key")
	}

	return nil
}

func newRun(ctx appctx.Ctx) infra.RunEFunc {
	return func(cmd *cobra.Command, args []string) error {
		token := tokenFlag
		if token == "" {
			if display := getServerDisplayURL(ctx); display != "" {
				log.Infof("Get a session token from %s\n", display)
			}
			if err := ui.PromptPassword("token", &token); err != nil {
				return errors.Wrap(err, "getting token")
			}
		}

		if err := Do(ctx, token); err != nil {
			return errors.Wrap(err, "logging in")
		}

		log.Successf("logged in to %s\n", ctx.APIEndpoint)

		return nil
	}
}
