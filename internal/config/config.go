// Package config loads per-layer options from a config file and the
// environment.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/joeblew999/tiledgeojson/internal/tiled"
)

// EnvPrefix prefixes environment overrides, e.g. TILEDGEOJSON_LAYER_RETINA.
const EnvPrefix = "TILEDGEOJSON"

// Layer is the construction bag of a tiled layer.
type Layer struct {
	Endpoint   string         `mapstructure:"endpoint"`
	Retina     bool           `mapstructure:"retina"`
	RetryBase  time.Duration  `mapstructure:"retry_base"`
	IDProperty string         `mapstructure:"id_property"`
	Style      map[string]any `mapstructure:"style"`
}

// Options converts the config into layer options.
func (c Layer) Options() tiled.Options {
	return tiled.Options{
		Retina:     c.Retina,
		RetryBase:  c.RetryBase,
		IDProperty: c.IDProperty,
		Style:      c.Style,
	}
}

// New returns a viper instance with layer defaults and env overrides.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("layer.endpoint", "")
	v.SetDefault("layer.retina", false)
	v.SetDefault("layer.retry_base", tiled.DefaultRetryBase)
	v.SetDefault("layer.id_property", "")
	v.SetDefault("layer.style", map[string]any{})
	return v
}

// Load reads file (TOML, YAML or JSON by extension) when it is not empty
// and returns the layer section. A missing file is only a warning.
func Load(file string) (Layer, error) {
	v := New()
	if file != "" {
		if _, err := os.Stat(file); os.IsNotExist(err) {
			log.Warnf("config file(%s) not exist", file)
		} else {
			v.SetConfigFile(file)
			if err := v.ReadInConfig(); err != nil {
				return Layer{}, fmt.Errorf("reading config %s: %w", file, err)
			}
		}
	}
	return Decode(v)
}

// Decode extracts the layer section from v.
func Decode(v *viper.Viper) (Layer, error) {
	var c Layer
	if err := v.UnmarshalKey("layer", &c); err != nil {
		return Layer{}, fmt.Errorf("decoding layer config: %w", err)
	}
	// AutomaticEnv is not consulted by UnmarshalKey for nested keys
	c.Endpoint = v.GetString("layer.endpoint")
	c.Retina = v.GetBool("layer.retina")
	c.RetryBase = v.GetDuration("layer.retry_base")
	c.IDProperty = v.GetString("layer.id_property")
	return c, nil
}
