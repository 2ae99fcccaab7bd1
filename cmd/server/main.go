package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"roomchat/internal/config"
	"roomchat/internal/constants"
	"roomchat/internal/logger"
	"roomchat/internal/rooms"
	"roomchat/internal/server"
	"roomchat/internal/store"
)

var (
	cfgFile string
	v       = viper.New()
)

var rootCmd = &cobra.Command{
	Use:          "roomchat-server",
	Short:        "Realtime room chat server",
	SilenceUsage: true,
	RunE:         runServer,
}

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "Validate and list the room catalog file",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := v.GetString(config.KeyRoomsFile)
		list, err := rooms.LoadFile(path)
		if err != nil {
			return err
		}
		fmt.Printf("  %s%s%s %s(%d rooms)%s\n", constants.ColorBold, path, constants.ColorReset, constants.ColorDim, len(list), constants.ColorReset)
		for _, r := range list {
			limit := "unlimited"
			if r.MaxUsers > 0 {
				limit = fmt.Sprintf("max %d", r.MaxUsers)
			}
			fmt.Printf("  %s%-12s%s %-24s %s%s%s\n", constants.ColorCyan, r.ID, constants.ColorReset, r.Name, constants.ColorDim, limit, constants.ColorReset)
		}
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("  %s%s%s-server%s %sv%s%s\n", constants.ColorBold, constants.ColorCyan, constants.AppName, constants.ColorReset, constants.ColorBold, constants.Version, constants.ColorReset)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./roomchat.yaml)")
	config.SetServerDefaults(v)
	cobra.CheckErr(config.BindServerFlags(v, rootCmd.PersistentFlags()))

	rootCmd.AddCommand(roomsCmd, versionCmd)
}

func initConfig() {
	cobra.CheckErr(config.Read(v, cfgFile))
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadServer(v)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := logger.Setup(cfg.Log); err != nil {
		return err
	}

	ctx := cmd.Context()
	st := store.NewStore(ctx, cfg.Redis)
	srv, err := server.New(ctx, cfg, st)
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("failed to initialize server: %w", err)
	}
	return srv.Run(ctx)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
