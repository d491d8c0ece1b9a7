package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var Version = "v0.1"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show pgingest version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("pgingest %s\n", Version)
	},
}
