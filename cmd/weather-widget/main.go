// Weather-widget is a terminal weather lookup for a fixed list of cities.
//
// It opens on the default city (or the detected position when one is
// configured), filters the city list as you type, and shows current
// conditions from OpenWeatherMap for the city you pick.
//
// Usage:
//
//	weather-widget [command] [flags]
//
// Running without arguments launches the interactive widget.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "weather-widget",
	Short: "Current weather for Kerala cities",
	Long: `An interactive terminal widget that looks up current weather.

Type to filter the city list, use the arrow keys to highlight a city and
press enter to load it. Configuration is read from config/<env>.yaml,
config/secrets.yaml, .env and the environment, as for the service.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runWidget,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(citiesCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "weather-widget %s\n", version)
	},
}
