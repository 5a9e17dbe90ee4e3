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

// Package infra provides operations and definitions for the
// local infrastructure for carebook
package infra

import (
	"database/sql"
	"path/filepath"
	"strconv"

	"github.com/carebook/carebook/pkg/cli/appctx"
	"github.com/carebook/carebook/pkg/cli/client"
	"github.com/carebook/carebook/pkg/cli/config"
	"github.com/carebook/carebook/pkg/cli/consts"
	"github.com/carebook/carebook/pkg/cli/database"
	"github.com/carebook/carebook/pkg/cli/log"
	"github.com/carebook/carebook/pkg/cli/utils"
	"github.com/carebook/carebook/pkg/clock"
	"github.com/carebook/carebook/pkg/dirs"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

const (
	// DefaultAPIEndpoint is the default API endpoint used when none is configured
	DefaultAPIEndpoint = "http://localhost:3001/api"
)

// RunEFunc is a function type of carebook commands
type RunEFunc func(*cobra.Command, []string) error

// Options are the command line overrides of the configuration
type Options struct {
	// APIEndpoint is used when creating a new config file and overrides the
	// configured endpoint
	APIEndpoint string
	// DBPath overrides the location of the database file
	DBPath string
	// Domain overrides the configured trust domain
	Domain string
}

func newPaths() appctx.Paths {
	return appctx.Paths{
		Home:   dirs.Home,
		Config: dirs.ConfigHome,
		Data:   dirs.DataHome,
		Cache:  dirs.CacheHome,
	}
}

// GetDBPath returns the path of the database file of the trust domain. Each
// domain has its own file so that cached data never crosses domains.
func GetDBPath(paths appctx.Paths, domain, customPath string) string {
	if customPath != "" {
		return customPath
	}

	return filepath.Join(dirs.AppDir(paths.Data), domain+"."+consts.DBFileExt)
}

// Init initializes the carebook environment and returns a new context
func Init(versionTag string, opts Options) (*appctx.Ctx, error) {
	paths := newPaths()

	if err := initFiles(paths, opts.APIEndpoint); err != nil {
		return nil, errors.Wrap(err, "initializing files")
	}

	cf, err := loadConfig(paths, opts)
	if err != nil {
		return nil, err
	}

	interval, err := cf.Interval()
	if err != nil {
		return nil, err
	}

	db, err := database.Open(GetDBPath(paths, cf.Domain, opts.DBPath))
	if err != nil {
		return nil, errors.Wrap(err, "connecting to db")
	}

	if _, err := database.Migrate(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "running migration")
	}
	if err := InitSystem(db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "initializing system data")
	}

	var sessionKey string
	err = database.GetSystem(db, consts.SystemSessionKey, &sessionKey)
	if err != nil && errors.Cause(err) != sql.ErrNoRows {
		db.Close()
		return nil, errors.Wrap(err, "finding session key")
	}

	ctx := appctx.Ctx{
		Paths:              paths,
		APIEndpoint:        cf.APIEndpoint,
		Version:            versionTag,
		Domain:             cf.Domain,
		DB:                 db,
		SessionKey:         sessionKey,
		Clock:              clock.New(),
		HTTPClient:         client.NewRateLimitedHTTPClient(),
		SyncInterval:       interval,
		RetryCeiling:       cf.RetryCeiling,
		ConditionalUpdates: cf.ConditionalUpdates,
		TimestampField:     cf.TimestampField,
	}

	log.Debug("context: %+v\n", appctx.Redact(ctx))

	return &ctx, nil
}

// loadConfig reads the configuration and applies the command line overrides,
// which take precedence over the environment and the file
func loadConfig(paths appctx.Paths, opts Options) (config.Config, error) {
	cf, err := config.Load(paths)
	if err != nil {
		return cf, errors.Wrap(err, "reading config")
	}

	if opts.APIEndpoint != "" {
		cf.APIEndpoint = opts.APIEndpoint
	}
	if opts.Domain != "" {
		cf.Domain = opts.Domain
	}

	if err := cf.Validate(); err != nil {
		return cf, err
	}

	return cf, nil
}

func initSystemKV(db *database.DB, key string, val string) error {
	var count int
	if err := db.QueryRow("SELECT count(*) FROM system WHERE key = ?", key).Scan(&count); err != nil {
		return errors.Wrapf(err, "counting %s", key)
	}

	if count > 0 {
		return nil
	}

	if _, err := db.Exec("INSERT INTO system (key, value) VALUES (?, ?)", key, val); err != nil {
		return errors.Wrapf(err, "inserting %s %s", key, val)
	}

	return nil
}

// InitSystem inserts system data if missing
func InitSystem(db *database.DB) error {
	log.Debug("initializing the system\n")

	return db.WithTx(func(tx *database.DB) error {
		if err := initSystemKV(tx, consts.SystemLastDrainAt, strconv.Itoa(0)); err != nil {
			return errors.Wrapf(err, "initializing system config for %s", consts.SystemLastDrainAt)
		}

		return nil
	})
}

// initConfigFile populates a new config file if it does not exist yet
func initConfigFile(paths appctx.Paths, apiEndpoint string) error {
	path := config.GetPath(paths)
	ok, err := utils.FileExists(path)
	if err != nil {
		return errors.Wrap(err, "checking if config exists")
	}
	if ok {
		return nil
	}

	endpoint := apiEndpoint
	if endpoint == "" {
		endpoint = DefaultAPIEndpoint
	}

	if err := config.Write(paths, config.Default(endpoint)); err != nil {
		return errors.Wrap(err, "writing config")
	}

	return nil
}

// initFiles creates, if necessary, the carebook directory and files inside
func initFiles(paths appctx.Paths, apiEndpoint string) error {
	if err := appctx.InitDirs(paths); err != nil {
		return errors.Wrap(err, "creating the carebook dir")
	}
	if err := initConfigFile(paths, apiEndpoint); err != nil {
		return errors.Wrap(err, "generating the config file")
	}

	return nil
}
