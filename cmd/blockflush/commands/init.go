package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/blockflush/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample blockflush configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/blockflush/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  blockflush init

  # Initialize with custom path
  blockflush init --config /etc/blockflush/config.yaml

  # Force overwrite existing config
  blockflush init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	var configPath string
	var err error

	if configFile != "" {
		// Use custom path
		err = config.InitConfigToPath(configFile, initForce)
		configPath = configFile
	} else {
		// Use default path
		configPath, err = config.InitConfig(initForce)
	}

	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Set cache.root to your block cache directory")
	fmt.Println("  2. Configure remote.type and routing.volumes for your deployment")
	fmt.Println("  3. Start the flusher with: blockflush start")
	fmt.Printf("  4. Or specify custom config: blockflush start --config %s\n", configPath)

	return nil
}
