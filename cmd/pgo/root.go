package pgo

import (
	"fmt"
	"os"

	"github.com/edgeflare/pgo/pkg/config"
	"github.com/spf13/cobra"
)

var cfgFile string
var logLevel string
var cfg *config.Config
var rootCmd = &cobra.Command{
	Use:   "pgo",
	Short: "PGO is a PostgreSQL CDC tool",
	Long:  `pgo streams data among endpoints aka peers`,
	Run: func(cmd *cobra.Command, args []string) {
		versionFlag, _ := cmd.Flags().GetBool("version")
		if versionFlag {
			fmt.Println(config.Version)
			return
		}

		// If no subcommand is provided, print help
		cmd.Help()
	},
}

func Main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/pgo.yaml)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "L", "info", "log requests at this level (debug, info, warn, error, fatal, none)")
	rootCmd.PersistentFlags().BoolP("version", "v", false, "Print the version number")

	rootCmd.AddCommand(pipelineCmd)
	rootCmd.AddCommand(watchCmd)
}

func initConfig() {
	var err error
	cfg, err = config.Load(cfgFile)
	if err != nil {
		fmt.Println("Error loading config:", err)
		os.Exit(1)
	}
}
