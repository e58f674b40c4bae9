// Package config loads the shared settings of the motodisk and erc
// binaries. Values come from an optional yasnac.ini file and may be
// overridden through YASNAC_* environment variables; command line
// flags take precedence over both.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/ini.v1"
)

const DefaultFile = "yasnac.ini"

type Serial struct {
	Port string
	Baud int
}

type Storage struct {
	Dir       string
	Overwrite bool
	Whitelist []string
}

type Settings struct {
	Serial  Serial
	Storage Storage
}

// Default returns the built-in settings. The baud rate is zero so each
// binary can fill in the rate of its own engine (4800 for the FC1
// link, 9600 for the host link).
func Default() Settings {
	return Settings{
		Serial:  Serial{Port: "/dev/ttyS0"},
		Storage: Storage{Dir: "."},
	}
}

// Load reads settings from the given ini file, then applies YASNAC_*
// environment overrides. A missing file is not an error unless it was
// named explicitly.
func Load(path string) (Settings, error) {
	settings := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	if _, err := os.Stat(path); err != nil {
		if explicit {
			return settings, fmt.Errorf("config: %w", err)
		}
	} else {
		file, err := ini.Load(path)
		if err != nil {
			return settings, fmt.Errorf("config: %w", err)
		}
		serial := file.Section("serial")
		settings.Serial.Port = serial.Key("port").MustString(settings.Serial.Port)
		settings.Serial.Baud = serial.Key("baud").MustInt(settings.Serial.Baud)

		storage := file.Section("storage")
		settings.Storage.Dir = storage.Key("dir").MustString(settings.Storage.Dir)
		settings.Storage.Overwrite = storage.Key("overwrite").MustBool(settings.Storage.Overwrite)
		if whitelist := storage.Key("whitelist").Strings(","); len(whitelist) > 0 {
			settings.Storage.Whitelist = whitelist
		}
	}

	v := viper.New()
	v.SetEnvPrefix("yasnac")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.SetDefault("serial.port", settings.Serial.Port)
	v.SetDefault("serial.baud", settings.Serial.Baud)
	v.SetDefault("storage.dir", settings.Storage.Dir)
	v.SetDefault("storage.overwrite", settings.Storage.Overwrite)

	settings.Serial.Port = v.GetString("serial.port")
	settings.Serial.Baud = v.GetInt("serial.baud")
	settings.Storage.Dir = v.GetString("storage.dir")
	settings.Storage.Overwrite = v.GetBool("storage.overwrite")
	return settings, nil
}
