package util

import (
	"fmt"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/mnemo-db/mnemo/lib/codec"
	"github.com/mnemo-db/mnemo/lib/storage"
	"github.com/mnemo-db/mnemo/lib/storage/registry"
)

// Wrap is the column the flag help text is wrapped at.
const Wrap = 50

// WrapString word-wraps help text at Wrap columns.
func WrapString(text string) string {
	var lines []string
	var line string
	for _, word := range strings.Fields(text) {
		switch {
		case line == "":
			line = word
		case len(line)+1+len(word) > Wrap:
			lines = append(lines, line)
			line = word
		default:
			line += " " + word
		}
	}
	if line != "" {
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// SetupStoreFlags adds the common store selection flags to a command
func SetupStoreFlags(cmd *cobra.Command) {
	key := "store"
	cmd.PersistentFlags().String(key, "ram", WrapString("Storage backend to use (ram, kv, fs, sqlite)"))

	key = "path"
	cmd.PersistentFlags().String(key, "", WrapString("Root directory (fs) or database file (sqlite) of the backend"))

	key = "codec"
	cmd.PersistentFlags().String(key, "gob", WrapString("Snapshot codec for the ram and kv backends (gob, json)"))

	key = "indexed"
	cmd.PersistentFlags().Bool(key, true, WrapString("Maintain identity indexes on the kv backend"))

	key = "cache"
	cmd.PersistentFlags().String(key, "none", WrapString("Cache layer wrapped around the backend (none, cache, aged, burned)"))
}

// InitConfig initializes configuration from environment variables
func InitConfig() {
	// load env files
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	// initialize viper
	viper.SetEnvPrefix("mnemo")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv() // read in environment variables that match
}

// GetCodec creates a snapshot codec based on configuration
func GetCodec() (codec.ICodec, error) {
	switch viper.GetString("codec") {
	case "gob":
		return codec.NewGOBCodec(), nil
	case "json":
		return codec.NewJSONCodec(), nil
	default:
		return nil, fmt.Errorf("invalid codec %s", viper.GetString("codec"))
	}
}

// OpenStore builds the configured storage manager chain: the selected
// backend, optionally wrapped in the selected cache layer.
func OpenStore() (storage.IStorage, error) {
	cdc, err := GetCodec()
	if err != nil {
		return nil, err
	}
	opts := registry.Options{
		Name:    "cli",
		Path:    viper.GetString("path"),
		Indexed: viper.GetBool("indexed"),
		Codec:   cdc,
	}

	store, err := registry.Open(registry.Implementation(viper.GetString("store")), opts)
	if err != nil {
		return nil, err
	}

	layer := viper.GetString("cache")
	if layer == "" || layer == "none" {
		return store, nil
	}
	return registry.Wrap(registry.Implementation(layer), store, opts)
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}
