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

package appctx

import (
	"github.com/carebook/carebook/pkg/cli/utils"
	"github.com/carebook/carebook/pkg/dirs"
	"github.com/pkg/errors"
)

// InitDirs creates the carebook directories if they don't already exist.
func InitDirs(paths Paths) error {
	if paths.Config != "" {
		if err := utils.EnsureDir(dirs.AppDir(paths.Config)); err != nil {
			return errors.Wrap(err, "initializing config dir")
		}
	}
	if paths.Data != "" {
		if err := utils.EnsureDir(dirs.AppDir(paths.Data)); err != nil {
			return errors.Wrap(err, "initializing data dir")
		}
	}
	if paths.Cache != "" {
		if err := utils.EnsureDir(dirs.AppDir(paths.Cache)); err != nil {
			return errors.Wrap(err, "initializing cache dir")
		}
	}

	return nil
}
