package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "docser"}

	root.AddCommand(serveCMD(), migrateCMD(), tokenCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
