package commands

import (
	"log"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/UserGeneratedLLC/rojo-sub002/internal/config"
)

var (
	cfgFile string
	verbose bool

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "rojo",
	Short: "Sync a source tree with a game-object tree",
	Long: `Rojo keeps a project's on-disk source tree and an in-memory instance
tree in sync: it builds model files from source, serves live patches to an
editor, and syncs model files back onto the filesystem.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/rojo/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		viper.ReadInConfig()
	}

	viper.SetEnvPrefix("ROJO")
	viper.AutomaticEnv()

	loaded, err := config.Load()
	if err != nil {
		log.Printf("[cli] Warning: %v, using defaults", err)
		loaded = config.DefaultConfig()
	}
	cfg = loaded
}
