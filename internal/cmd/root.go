package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "countrymap",
	Short: "A headless world map client with a country boundary overlay",
	Long: `countrymap drives a world map page without a browser.

It binds a map to a container, loads the raster basemap tiles for the viewport
from a tile endpoint, fetches the country boundaries GeoJSON into a vector
overlay, and can write a PNG snapshot of the result or the loaded features.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	flags.String("base-url", "http://127.0.0.1:8000", "Base URL of the tile and static file server")
	flags.Bool("verbose", false, "Enable verbose logging")

	flags.String("tile-url", "/api/map/{z}/{x}/{y}/tile.png", "Tile URL template with {z}, {x} and {y} placeholders")
	flags.Int("min-zoom", 0, "Minimum zoom level tiles are requested for")
	flags.Int("max-zoom", 18, "Maximum zoom level tiles are requested for")
	flags.IntP("workers", "w", 4, "Number of parallel tile fetch workers")
	flags.String("cache", "", "MBTiles file used as a persistent tile cache")

	mustBind := func(key string, name string) {
		if err := viper.BindPFlag(key, flags.Lookup(name)); err != nil {
			panic(fmt.Sprintf("failed to bind flag: %v", err))
		}
	}

	mustBind("base-url", "base-url")
	mustBind("verbose", "verbose")
	mustBind("tiles.url_template", "tile-url")
	mustBind("tiles.min_zoom", "min-zoom")
	mustBind("tiles.max_zoom", "max-zoom")
	mustBind("tiles.workers", "workers")
	mustBind("tiles.cache", "cache")
}

func initConfig() {
	// A missing .env file is fine; the environment is used as is.
	_ = godotenv.Load()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("COUNTRYMAP")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}
