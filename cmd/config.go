package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cstlee/RooBench/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the cluster config file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file if none exists",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := viper.GetString("config")
		created, err := config.EnsureConfigFile(path)
		if err != nil {
			return err
		}
		if created {
			fmt.Printf("Created %s\n", path)
		} else {
			fmt.Printf("%s already exists, left unchanged\n", path)
		}
		return nil
	},
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the config file and list the resolved hosts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		for _, h := range cfg.ClusterHosts() {
			fmt.Printf("%-3d %-12s %-8s %s\n", h.ID, h.Name, h.Role, h.Address)
		}
		fmt.Printf("transport: %s\n", cfg.Agent.Transport)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configCheckCmd)
}
