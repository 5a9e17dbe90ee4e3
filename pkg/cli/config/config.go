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

// Package config reads and writes the carebook configuration
package config

import (
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/carebook/carebook/pkg/cli/appctx"
	"github.com/carebook/carebook/pkg/cli/consts"
	"github.com/carebook/carebook/pkg/cli/utils"
	"github.com/carebook/carebook/pkg/dirs"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

const (
	// EnvAPIEndpoint overrides the API endpoint of the config file
	EnvAPIEndpoint = "CAREBOOK_API_ENDPOINT"
	// EnvDomain overrides the trust domain of the config file
	EnvDomain = "CAREBOOK_DOMAIN"

	// DefaultSyncInterval is the interval between periodic drains
	DefaultSyncInterval = 30 * time.Second
	// DefaultRetryCeiling is the number of retries of a failing operation
	DefaultRetryCeiling = 3
)

// ErrInvalid is returned for a configuration that cannot be used
var ErrInvalid = errors.New("invalid configuration")

// Config holds carebook configuration
type Config struct {
	APIEndpoint string `yaml:"apiEndpoint"`
	Domain      string `yaml:"domain"`
	// SyncInterval is a duration such as "30s"
	SyncInterval       string `yaml:"syncInterval"`
	RetryCeiling       int    `yaml:"retryCeiling"`
	ConditionalUpdates bool   `yaml:"conditionalUpdates"`
	TimestampField     string `yaml:"timestampField"`
}

// Default returns the configuration written on first run
func Default(apiEndpoint string) Config {
	return Config{
		APIEndpoint:    apiEndpoint,
		Domain:         consts.DomainStaff,
		SyncInterval:   DefaultSyncInterval.String(),
		RetryCeiling:   DefaultRetryCeiling,
		TimestampField: consts.DefaultTimestampField,
	}
}

// GetPath returns the path to the carebook config file
func GetPath(paths appctx.Paths) string {
	return filepath.Join(dirs.AppDir(paths.Config), consts.ConfigFilename)
}

// GetEnvPath returns the path to the optional dotenv file
func GetEnvPath(paths appctx.Paths) string {
	return filepath.Join(dirs.AppDir(paths.Config), consts.EnvFilename)
}

// Read reads the config file
func Read(paths appctx.Paths) (Config, error) {
	var ret Config

	b, err := os.ReadFile(GetPath(paths))
	if err != nil {
		return ret, errors.Wrap(err, "reading config file")
	}

	err = yaml.Unmarshal(b, &ret)
	if err != nil {
		return ret, errors.Wrap(err, "unmarshalling config")
	}

	return ret, nil
}

// Write writes the config to the config file
func Write(paths appctx.Paths, cf Config) error {
	b, err := yaml.Marshal(cf)
	if err != nil {
		return errors.Wrap(err, "marshalling config into YAML")
	}

	err = os.WriteFile(GetPath(paths), b, 0600)
	if err != nil {
		return errors.Wrap(err, "writing the config file")
	}

	return nil
}

// LoadEnv loads the dotenv file next to the config file into the process
// environment, if it exists. Variables already set are not overridden.
func LoadEnv(paths appctx.Paths) error {
	path := GetEnvPath(paths)

	ok, err := utils.FileExists(path)
	if err != nil {
		return errors.Wrap(err, "checking dotenv file")
	}
	if !ok {
		return nil
	}

	if err := godotenv.Load(path); err != nil {
		return errors.Wrapf(err, "loading %s", path)
	}

	return nil
}

// ApplyEnv overrides the configuration with environment variables
func ApplyEnv(cf Config) Config {
	if v := os.Getenv(EnvAPIEndpoint); v != "" {
		cf.APIEndpoint = v
	}
	if v := os.Getenv(EnvDomain); v != "" {
		cf.Domain = v
	}

	return cf
}

// withDefaults fills in settings missing from older config files
func withDefaults(cf Config) Config {
	def := Default(cf.APIEndpoint)

	if cf.Domain == "" {
		cf.Domain = def.Domain
	}
	if cf.SyncInterval == "" {
		cf.SyncInterval = def.SyncInterval
	}
	if cf.RetryCeiling == 0 {
		cf.RetryCeiling = def.RetryCeiling
	}
	if cf.TimestampField == "" {
		cf.TimestampField = def.TimestampField
	}

	return cf
}

// Load reads the config file, then applies the dotenv file and the
// environment on top of it
func Load(paths appctx.Paths) (Config, error) {
	if err := LoadEnv(paths); err != nil {
		return Config{}, err
	}

	cf, err := Read(paths)
	if err != nil {
		return cf, err
	}

	return withDefaults(ApplyEnv(cf)), nil
}

// IsDomain tells if the name is a supported trust domain
func IsDomain(name string) bool {
	for _, d := range consts.Domains {
		if d == name {
			return true
		}
	}

	return false
}

// Interval returns the sync interval
func (cf Config) Interval() (time.Duration, error) {
	if cf.SyncInterval == "" {
		return DefaultSyncInterval, nil
	}

	d, err := time.ParseDuration(cf.SyncInterval)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalid, "syncInterval '%s'", cf.SyncInterval)
	}
	if d < time.Second {
		return 0, errors.Wrapf(ErrInvalid, "syncInterval '%s' is shorter than a second", cf.SyncInterval)
	}

	return d, nil
}

// Validate checks that the configuration can be used
func (cf Config) Validate() error {
	u, err := url.Parse(cf.APIEndpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.Wrapf(ErrInvalid, "apiEndpoint '%s'", cf.APIEndpoint)
	}
	if !IsDomain(cf.Domain) {
		return errors.Wrapf(ErrInvalid, "domain '%s'", cf.Domain)
	}
	if cf.RetryCeiling < 0 {
		return errors.Wrapf(ErrInvalid, "retryCeiling %d", cf.RetryCeiling)
	}
	if _, err := cf.Interval(); err != nil {
		return err
	}

	return nil
}
