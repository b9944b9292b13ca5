/*
	Copyright NetFoundry, Inc.

	Licensed under the Apache License, Version 2.0 (the "License");
	you may not use this file except in compliance with the License.
	You may obtain a copy of the License at

	https://www.apache.org/licenses/LICENSE-2.0

	Unless required by applicable law or agreed to in writing, software
	distributed under the License is distributed on an "AS IS" BASIS,
	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
	See the License for the specific language governing permissions and
	limitations under the License.
*/

package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/goccy/go-yaml"
	"github.com/pkg/errors"
)

const (
	ConfigEnv   = "XPOLICY_CONFIG"
	AddressEnv  = "XPOLICY_ADDR"
	LogLevelEnv = "XPOLICY_LOG_LEVEL"

	DefaultConfigFile = "xpolicy.yml"
)

// readConfigFile decodes a YAML (.yml, .yaml, .json) or TOML (.toml) file into a configuration map.
func readConfigFile(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "could not read configuration file [%s]", path)
	}

	cfgmap := map[string]interface{}{}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yml", ".yaml", ".json":
		err = yaml.Unmarshal(data, &cfgmap)
	case ".toml":
		err = toml.Unmarshal(data, &cfgmap)
	default:
		return nil, errors.Errorf("unsupported configuration file type [%s], expected .yml, .yaml, .json or .toml", ext)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not decode configuration file [%s]", path)
	}

	return cfgmap, nil
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}
