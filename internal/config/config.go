package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// EnvPath names the variable holding the config file path.
const EnvPath = "CONFIG_PATH"

// Path returns file when set, otherwise the value of CONFIG_PATH. Empty means no file.
func Path(file string) string {
	if file != "" {
		return file
	}
	return os.Getenv(EnvPath)
}

// Load config from file into the config struct, config must be a pointer to the config struct.
// The current values of config are defaults. Environment variables override both, with "."
// in keys replaced by "_" (HTTP_PORT overrides http.port). An empty file loads defaults
// and environment only.
func Load(file string, config any) error {
	v := viper.New()

	// nested structs decode to nested maps, so viper knows every leaf key for AutomaticEnv
	m := make(map[string]any)
	if err := mapstructure.Decode(config, &m); err != nil {
		return fmt.Errorf("mapstructure: %v", err)
	}

	if err := v.MergeConfigMap(m); err != nil {
		return fmt.Errorf("merge config map: %v", err)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		if err := v.MergeInConfig(); err != nil {
			return fmt.Errorf("read config from file %s: %v", file, err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("unmarshal config: %v", err)
	}

	return nil
}
