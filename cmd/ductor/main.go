package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/ductor/internal/profile"
	"github.com/hrygo/ductor/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "ductor",
	Short: `A Telegram orchestrator for terminal AI agents. Talk to Claude Code or Codex from your phone.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Only load .env for direct binary execution (not when running as systemd service)
		// Systemd services carry their environment in the unit file
		if !isRunningAsSystemdService() {
			// Try to load .env file from current directory (ignore error if file doesn't exist)
			_ = godotenv.Load()
		}
		return nil
	},
	RunE: func(_ *cobra.Command, _ []string) error {
		instanceProfile := &profile.Profile{
			Home:         viper.GetString("home"),
			Mode:         viper.GetString("mode"),
			KillExisting: viper.GetBool("kill-existing"),
			Version:      version.String(),
		}
		instanceProfile.FromEnv()
		if err := instanceProfile.Validate(); err != nil {
			return err
		}

		if !instanceProfile.Supervised {
			os.Exit(runSupervisor(instanceProfile))
		}
		return runApp(instanceProfile)
	},
}

func init() {
	viper.SetDefault("mode", "prod")

	rootCmd.PersistentFlags().String("home", "", "data directory (default ~/.ductor)")
	rootCmd.PersistentFlags().String("mode", "prod", `mode of the bot, can be "prod" or "dev"`)
	rootCmd.PersistentFlags().Bool("kill-existing", false, "kill a running instance instead of refusing to start")

	if err := viper.BindPFlag("home", rootCmd.PersistentFlags().Lookup("home")); err != nil {
		panic(err)
	}
	if err := viper.BindPFlag("mode", rootCmd.PersistentFlags().Lookup("mode")); err != nil {
		panic(err)
	}
	if err := viper.BindPFlag("kill-existing", rootCmd.PersistentFlags().Lookup("kill-existing")); err != nil {
		panic(err)
	}

	viper.SetEnvPrefix("ductor")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
}

func printGreetings(p *profile.Profile) {
	fmt.Printf("ductor %s started successfully!\n", p.Version)
	if p.IsDev() {
		fmt.Fprint(os.Stderr, "Development mode is enabled\n")
	}
	fmt.Printf("Home directory: %s\n", p.Home)
	fmt.Printf("Mode: %s\n", p.Mode)
}

// isRunningAsSystemdService detects if the process is running under systemd.
func isRunningAsSystemdService() bool {
	return os.Getenv("INVOCATION_ID") != "" || os.Getenv("WATCHDOG_USEC") != ""
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
