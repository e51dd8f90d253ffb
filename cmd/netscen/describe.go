package main

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var describeOut string

var describeCmd = &cobra.Command{
	Use:   "describe",
	Short: "Build a scenario and print its topology without running it",
	RunE:  runDescribe,
}

func init() {
	rootCmd.AddCommand(describeCmd)

	describeCmd.Flags().StringVarP(&describeOut, "output", "o", "", "write the description to this file instead of stdout")
}

func runDescribe(cmd *cobra.Command, args []string) error {
	scn, err := buildScenario()
	if err != nil {
		return err
	}
	desc := scn.Describe()
	if len(describeOut) > 0 {
		return writeOrPrint(describeOut, desc.WriteToFile, "topology")
	}
	bytes, err := yaml.Marshal(desc)
	if err != nil {
		return err
	}
	_, err = cmd.OutOrStdout().Write(bytes)
	return err
}
