package vconvert

/**
 * SPDX-License-Identifier: Apache-2.0
 * Copyright 2020 vorteil.io Pty Ltd
 */

import (
	"encoding/binary"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"github.com/vorteil/rbdvhd/pkg/elog"
)

const (
	configFileName = ".rbdvhd"

	KeyCreatorApplication = "creator.application"
	KeyCreatorHostOS      = "creator.hostos"
	KeySplitAtBlocks      = "extract.split-at-blocks"
	KeyProgress           = "progress"
)

// Config holds the settings shared by every conversion.
type Config struct {
	CreatorApplication string
	CreatorHostOS      uint32
	SplitAtBlocks      bool
	Progress           bool
}

func setDefaults() {
	viper.SetDefault(KeyCreatorApplication, "vcli")
	viper.SetDefault(KeyCreatorHostOS, "Wi2k")
	viper.SetDefault(KeySplitAtBlocks, false)
	viper.SetDefault(KeyProgress, true)
}

// InitConfig reads in the config file, falling back to defaults if there
// is none.
func InitConfig(cfgFile string, log elog.View) {

	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			log.Debugf("no home directory: %v", err)
			return
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(configFileName)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err == nil {
		log.Debugf("using config file: %s", viper.ConfigFileUsed())
	} else {
		log.Debugf("%s", err.Error())
		log.Debugf("using default configuration")
	}
}

// LoadConfig validates the current viper settings.
func LoadConfig() (*Config, error) {

	setDefaults()

	cfg := &Config{
		CreatorApplication: viper.GetString(KeyCreatorApplication),
		SplitAtBlocks:      viper.GetBool(KeySplitAtBlocks),
		Progress:           viper.GetBool(KeyProgress),
	}

	if len(cfg.CreatorApplication) > 4 {
		return nil, errors.Errorf("%s: %q is longer than 4 characters", KeyCreatorApplication, cfg.CreatorApplication)
	}

	var err error
	cfg.CreatorHostOS, err = parseHostOS(viper.GetString(KeyCreatorHostOS))
	if err != nil {
		return nil, errors.Wrap(err, KeyCreatorHostOS)
	}

	return cfg, nil
}

// parseHostOS packs a four character code such as "Wi2k" into the footer
// field. Shorter codes are padded with spaces.
func parseHostOS(s string) (uint32, error) {
	if s == "" {
		return 0, nil
	}
	if len(s) > 4 {
		return 0, errors.Errorf("%q is longer than 4 characters", s)
	}

	code := []byte("    ")
	copy(code, s)
	return binary.BigEndian.Uint32(code), nil
}
