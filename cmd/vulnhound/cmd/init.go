package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vulnhound/vulnhound/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter configuration file",
	Long: `Create a documented configuration file with the defaults spelled out.
Writes .vulnhound.yaml in the current directory, or the per-user config
with --user. Existing files are left alone unless --force is given.`,
	RunE: runInit,
}

var (
	initUser  bool
	initForce bool
)

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initUser, "user", false,
		"write the per-user config (~/.config/vulnhound/config.yaml) instead")
	initCmd.Flags().BoolVar(&initForce, "force", false,
		"overwrite an existing config file")
}

func runInit(_ *cobra.Command, _ []string) error {
	path := config.ProjectConfigName
	if initUser {
		userPath, err := config.UserConfigPath()
		if err != nil {
			return err
		}
		path = userPath
	}

	if initForce {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("replacing config: %w", err)
		}
	}

	created, err := config.EnsureConfigFile(path)
	if err != nil {
		return err
	}
	if !created {
		fmt.Printf("%s already exists (use --force to overwrite)\n", path)
		return nil
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}
