package main

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/iti/netscen"
	"github.com/iti/netscen/internal/logging"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "netscen",
	Short: "Build and run wireless cell / backbone network scenarios",
	Long: `netscen assembles a network scenario from a handful of parameters: a wired
backbone joining one or more wireless cells, each with its own stations, access point,
address block and mobility, plus an echo exchange between a server station and a
group of clients.  The scenario is then run on a discrete-event clock.

Two presets are built in: dual-cell (two cells whose access points share a
point-to-point link) and lan-cell (one cell whose access point sits on a shared
segment with wired nodes).`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&cfgFile, "config", "c", "", "scenario parameter file (yaml or json)")
	flags.String("preset", string(netscen.FamilyDualCell), "preset to start from: dual-cell, lan-cell")
	flags.IntSlice("cells", nil, "stations per cell, in cell order (e.g. --cells 4,4)")
	flags.Int("lan-nodes", 0, "wired nodes on the shared segment (lan-cell)")
	flags.Float64("stop", 0, "simulation stop time in seconds")
	flags.Uint64("seed", netscen.DefaultSeed, "seed of random placement and start jitter")
	flags.Bool("verbose", true, "tell echo applications to log")
	flags.String("log-format", "text", "log format: text or json")

	for _, name := range []string{"preset", "cells", "lan-nodes", "stop", "seed", "verbose", "log-format"} {
		if err := viper.BindPFlag(name, flags.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

func initConfig() {
	viper.SetEnvPrefix("netscen")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// loadParams starts from the parameter file if one is named, otherwise from the preset, then
// applies whatever flags or NETSCEN_* variables were given
func loadParams() (*netscen.ScenarioParams, error) {
	var params *netscen.ScenarioParams
	var err error

	if len(cfgFile) > 0 {
		ext := path.Ext(cfgFile)
		useYAML := ext == ".yaml" || ext == ".yml" || ext == ".YAML"
		params, err = netscen.ReadScenarioParams(cfgFile, useYAML, nil)
	} else {
		params, err = netscen.Preset(viper.GetString("preset"))
	}
	if err != nil {
		return nil, err
	}

	if viper.IsSet("cells") {
		if err := params.SetStations(viper.GetIntSlice("cells")); err != nil {
			return nil, err
		}
	}
	if viper.IsSet("lan-nodes") {
		params.LanNodes = viper.GetInt("lan-nodes")
	}
	if viper.IsSet("stop") {
		params.StopTime = viper.GetFloat64("stop")
	}
	if viper.IsSet("seed") {
		params.Seed = viper.GetUint64("seed")
	}
	if viper.IsSet("verbose") {
		params.Verbose = viper.GetBool("verbose")
	}

	if err := params.Validate(); err != nil {
		return nil, err
	}
	return params, nil
}

// newLogger logs echo traffic at info level when verbose, otherwise only warnings
func newLogger(params *netscen.ScenarioParams) logging.Logger {
	level := "warn"
	if params.Verbose {
		level = "info"
	}
	return logging.New(logging.Config{Level: level, Format: viper.GetString("log-format"), Output: os.Stderr})
}

// buildScenario loads the parameters and builds the scenario they describe
func buildScenario() (*netscen.Scenario, error) {
	params, err := loadParams()
	if err != nil {
		return nil, err
	}
	return netscen.Build(params, netscen.Options{Logger: newLogger(params)})
}

func writeOrPrint(filename string, write func(string) error, what string) error {
	if len(filename) == 0 {
		return nil
	}
	if err := write(filename); err != nil {
		return fmt.Errorf("writing %s to %s: %w", what, filename, err)
	}
	fmt.Printf("%s written to %s\n", what, filename)
	return nil
}
