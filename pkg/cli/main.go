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

package main

import (
	"os"
	"strings"

	"github.com/carebook/carebook/pkg/cli/infra"
	"github.com/carebook/carebook/pkg/cli/log"

	// commands
	"github.com/carebook/carebook/pkg/cli/cmd/create"
	"github.com/carebook/carebook/pkg/cli/cmd/get"
	"github.com/carebook/carebook/pkg/cli/cmd/login"
	"github.com/carebook/carebook/pkg/cli/cmd/logout"
	"github.com/carebook/carebook/pkg/cli/cmd/outbox"
	"github.com/carebook/carebook/pkg/cli/cmd/remove"
	"github.com/carebook/carebook/pkg/cli/cmd/root"
	"github.com/carebook/carebook/pkg/cli/cmd/status"
	"github.com/carebook/carebook/pkg/cli/cmd/sync"
	"github.com/carebook/carebook/pkg/cli/cmd/update"
	"github.com/carebook/carebook/pkg/cli/cmd/version"
	"github.com/carebook/carebook/pkg/cli/cmd/watch"
)

// apiEndpoint and versionTag are populated during link time
var apiEndpoint string
var versionTag = "master"

// parseFlag extracts the value of a global flag from command line arguments
// regardless of where it appears (before or after subcommand).
// Returns empty string if not found.
func parseFlag(args []string, name string) string {
	flag := "--" + name
	for i, arg := range args {
		if arg == "--" {
			break
		}
		// Handle --name=value
		if strings.HasPrefix(arg, flag+"=") {
			return strings.TrimPrefix(arg, flag+"=")
		}
		// Handle --name value
		if arg == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func main() {
	// The database depends on --dbPath and --domain, and both can appear
	// after the subcommand, which root.ParseFlags does not see.
	args := os.Args[1:]
	opts := infra.Options{
		APIEndpoint: apiEndpoint,
		DBPath:      parseFlag(args, "dbPath"),
		Domain:      parseFlag(args, "domain"),
	}

	ctx, err := infra.Init(versionTag, opts)
	if err != nil {
		log.Errorf("initializing: %s\n", err.Error())
		os.Exit(1)
	}
	defer ctx.DB.Close()

	root.Register(get.NewCmd(*ctx))
	root.Register(create.NewCmd(*ctx))
	root.Register(update.NewCmd(*ctx))
	root.Register(remove.NewCmd(*ctx))
	root.Register(sync.NewCmd(*ctx))
	root.Register(outbox.NewCmd(*ctx))
	root.Register(status.NewCmd(*ctx))
	root.Register(watch.NewCmd(*ctx))
	root.Register(login.NewCmd(*ctx))
	root.Register(logout.NewCmd(*ctx))
	root.Register(version.NewCmd(*ctx))

	if err := root.Execute(); err != nil {
		ctx.DB.Close()
		log.Errorf("%s\n", err.Error())
		os.Exit(1)
	}
}
