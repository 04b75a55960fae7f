// Copyright 2014 The Gogs Authors. All rights reserved.
// Copyright 2017 The Gitea Authors. All rights reserved.
// SPDX-License-Identifier: MIT

package setting

import (
	"os"
	"path/filepath"
)

var (
	// CustomConf is the path of the ini file, it can be changed by the --config flag
	CustomConf = "custom/conf/esbulk.ini"

	// AppDataPath is where persistent data (eg: the dead letter store) is kept
	AppDataPath = "data"

	// CfgProvider is the loaded configuration
	CfgProvider ConfigProvider
)

// LoadSettings loads the config file and initializes every setting group
func LoadSettings() error {
	cfg, err := NewConfigProviderFromFile(CustomConf)
	if err != nil {
		return err
	}
	return LoadSettingsFrom(cfg)
}

// LoadSettingsFrom initializes every setting group from a config provider
func LoadSettingsFrom(rootCfg ConfigProvider) error {
	CfgProvider = rootCfg

	AppDataPath = rootCfg.Section("").Key("APP_DATA_PATH").MustString(AppDataPath)
	if !filepath.IsAbs(AppDataPath) {
		if wd, err := os.Getwd(); err == nil {
			AppDataPath = filepath.Join(wd, AppDataPath)
		}
	}

	loadLogFrom(rootCfg)
	loadServerFrom(rootCfg)
	if err := loadCorsFrom(rootCfg); err != nil {
		return err
	}
	if err := loadElasticsearchFrom(rootCfg); err != nil {
		return err
	}
	if err := loadBulkFrom(rootCfg); err != nil {
		return err
	}
	return loadDeadLetterFrom(rootCfg)
}
