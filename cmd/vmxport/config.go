package main

import (
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

const configFileName = "vmxport.yaml"

// initConfig loads defaults for flags the user didn't set explicitly.
// A config file lets CI pipelines or repeated exports pin a compression
// level and thread count without repeating flags; missing config is not
// an error, since sensible built-in defaults already apply.
func initConfig(cfgFile string) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			return
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(configFileName)
	}

	if err := viper.ReadInConfig(); err == nil {
		log.Debugf("using config file: %s", viper.ConfigFileUsed())
	} else {
		log.Debugf("no config file found, using built-in defaults: %s", err)
	}

	viper.SetDefault("compression", "balanced")
	viper.SetDefault("threads", 0)
	viper.SetDefault("chunk-size", 0)
}
