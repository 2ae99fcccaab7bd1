package main

import (
	"bufio"
	"cmp"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"roomchat/internal/client"
	"roomchat/internal/config"
	"roomchat/internal/constants"
	"roomchat/internal/logger"
	"roomchat/internal/presence"
	"roomchat/internal/protocol"
	"roomchat/internal/tabs"
)

const (
	colorReset  = constants.ColorReset
	colorBold   = constants.ColorBold
	colorDim    = constants.ColorDim
	colorCyan   = constants.ColorCyan
	colorGreen  = constants.ColorGreen
	colorYellow = constants.ColorYellow
	colorRed    = constants.ColorRed
	colorPurple = constants.ColorPurple
)

var (
	cfgFile string
	v       = viper.New()
)

func printBanner() {
	fmt.Println()
	fmt.Printf("  %s%s%s%s %sv%s%s\n", colorBold, colorCyan, constants.AppName, colorReset, colorBold, constants.Version, colorReset)
	fmt.Printf("  %sRealtime Room Chat%s\n", colorDim, colorReset)
	fmt.Println()
}

func printHint(text string) {
	fmt.Printf("  %s%s%s\n", colorDim, text, colorReset)
}

func printStep(text string) {
	fmt.Printf("  %s%s▸%s %s\n", colorBold, colorCyan, colorReset, text)
}

func printField(label, value, valueColor string) {
	fmt.Printf("  %s%-12s%s %s%s%s\n", colorDim, label, colorReset, valueColor, value, colorReset)
}

func printSep() {
	fmt.Printf("  %s%s%s\n", colorDim, strings.Repeat("─", 50), colorReset)
}

func printWarn(text string) {
	fmt.Printf("  %s⚠ %s%s\n", colorYellow, text, colorReset)
}

var rootCmd = &cobra.Command{
	Use:          "roomchat",
	Short:        "Terminal client for roomchat",
	SilenceUsage: true,
}

var loginCmd = &cobra.Command{
	Use:   "login <userId> <username>",
	Short: "Store the identity used to connect",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		file, err := credentialFile()
		if err != nil {
			return err
		}
		cred := client.Credential{UserID: args[0], Username: args[1]}
		if err := file.Save(cred); err != nil {
			return fmt.Errorf("save credential: %w", err)
		}
		fmt.Printf("  %s✓ Logged in as %s%s\n", colorGreen, cred.Username, colorReset)
		printField("File", string(file), colorDim)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored identity",
	RunE: func(cmd *cobra.Command, args []string) error {
		file, err := credentialFile()
		if err != nil {
			return err
		}
		if err := file.Remove(); err != nil {
			return fmt.Errorf("remove credential: %w", err)
		}
		fmt.Printf("  %s✓ Logged out%s\n", colorGreen, colorReset)
		return nil
	},
}

var connectCmd = &cobra.Command{
	Use:   "connect [room...]",
	Short: "Connect and chat in the given rooms",
	RunE:  runConnect,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("  %s%s%s%s %sv%s%s\n", colorBold, colorCyan, constants.AppName, colorReset, colorBold, constants.Version, colorReset)
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./roomchat.yaml)")
	config.SetClientDefaults(v)
	cobra.CheckErr(config.BindClientFlags(v, rootCmd.PersistentFlags()))

	rootCmd.AddCommand(loginCmd, logoutCmd, connectCmd, versionCmd)
}

func initConfig() {
	cobra.CheckErr(config.Read(v, cfgFile))
}

func loadConfig() (config.Client, error) {
	cfg, err := config.LoadClient(v)
	if err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, logger.Setup(cfg.Log)
}

func credentialFile() (client.CredentialFile, error) {
	cfg, err := loadConfig()
	if err != nil {
		return "", err
	}
	if cfg.CredentialFile != "" {
		return client.CredentialFile(cfg.CredentialFile), nil
	}
	path, err := client.DefaultCredentialPath()
	if err != nil {
		return "", err
	}
	return client.CredentialFile(path), nil
}

func runConnect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	file, err := credentialFile()
	if err != nil {
		return err
	}

	opts := client.DefaultOptions()
	opts.Heartbeat = cfg.Heartbeat
	opts.ConnectTimeout = cfg.ConnectTimeout
	if !cfg.Jitter {
		opts.Jitter = 0
	}

	mgr := client.New(client.NewWebSocketDialer(cfg.ServerURL), file, opts)
	defer mgr.Disconnect()

	state := tabs.New()
	defer tabs.Bind(state, mgr)()
	state.OnChange(func(c tabs.Change) { render(state, c) })
	watch(mgr)

	printBanner()
	printField("Server", cfg.ServerURL, colorCyan)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mgr.Connect(ctx); err != nil {
		if errors.Is(err, client.ErrNoCredential) {
			printWarn("No login stored. Run: roomchat login <userId> <username>")
			return err
		}
		printWarn(fmt.Sprintf("Could not connect, retrying in the background: %v", err))
	}
	printField("User", mgr.Credential().Username, colorGreen)
	for _, room := range args {
		mgr.JoinRoom(room)
	}
	printSep()
	printHint("Type a message, or /help for commands")
	fmt.Println()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(os.Stdin)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			printStep("Disconnecting...")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := handleLine(mgr, state, strings.TrimSpace(line)); quit {
				printStep("Bye")
				return nil
			}
		}
	}
}

// handleLine runs one input line and reports whether the user asked to quit.
func handleLine(mgr *client.Manager, state *tabs.State, line string) bool {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		room := state.Active()
		if room == "" {
			printWarn("Join a room first: /join <room>")
			return false
		}
		if !mgr.Emit(protocol.SendMessage{RoomID: room, Username: mgr.Credential().Username, Text: line}) {
			printWarn("Not connected, message not sent")
		}
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		printHelp()
	case "/join":
		if arg == "" {
			printWarn("Usage: /join <room>")
			return false
		}
		mgr.JoinRoom(arg)
	case "/leave":
		room := cmp.Or(arg, state.Active())
		if room == "" {
			return false
		}
		mgr.LeaveRoom(room)
		state.Close(room)
	case "/switch":
		if !state.Switch(arg) {
			printWarn("No open tab for " + arg)
		}
	case "/tabs":
		printTabs(state)
	case "/c", "/claim":
		if arg == "" {
			printWarn("Usage: /c <code>")
			return false
		}
		mgr.Emit(protocol.ClaimVoucher{Code: arg})
	case "/away", "/busy", "/online":
		status := presence.Status(strings.TrimPrefix(cmd, "/"))
		mgr.Emit(protocol.SetPresence{Status: string(status)})
	case "/kick":
		room := state.Active()
		if arg == "" || room == "" {
			printWarn("Usage: /kick <userId> (in the room tab)")
			return false
		}
		mgr.Emit(protocol.KickUser{RoomID: room, Target: arg})
	default:
		printWarn("Unknown command " + cmd)
	}
	return false
}

func printHelp() {
	printSep()
	printField("/join", "join a room and open its tab", colorReset)
	printField("/leave", "leave the active room, or the named one", colorReset)
	printField("/switch", "bring an open tab to the front", colorReset)
	printField("/tabs", "list open tabs", colorReset)
	printField("/c", "claim a voucher code", colorReset)
	printField("/away", "also /busy and /online", colorReset)
	printField("/kick", "remove a user from the active room (admins)", colorReset)
	printField("/quit", "disconnect and exit", colorReset)
	printSep()
}

func printTabs(state *tabs.State) {
	list := state.Tabs()
	if len(list) == 0 {
		printHint("No open tabs")
		return
	}
	for _, t := range list {
		marker := " "
		if t.Active {
			marker = "▸"
		}
		fmt.Printf("  %s%s%s %s%-10s%s %s %s(%d messages)%s\n", colorCyan, marker, colorReset, colorBold, t.RoomID, colorReset, t.RoomName, colorDim, len(t.Messages), colorReset)
	}
}

func render(state *tabs.State, c tabs.Change) {
	switch c.Kind {
	case tabs.TabOpened:
		if t, ok := state.Tab(c.RoomID); ok {
			printStep(fmt.Sprintf("Joined %s%s%s", colorBold, t.RoomName, colorReset))
		}
	case tabs.TabClosed:
		printStep("Closed tab " + c.RoomID)
	case tabs.TabSwitched:
		if t, ok := state.Tab(c.RoomID); ok {
			printHint("Now in " + t.RoomName)
		}
	case tabs.MessageAdded:
		if c.RoomID != state.Active() {
			return
		}
		m := c.Message
		ts := m.Timestamp.Local().Format(constants.TimeFormatShort)
		switch {
		case m.System:
			fmt.Printf("  %s%s%s %s%s%s\n", colorDim, ts, colorReset, colorPurple, m.Text, colorReset)
		case m.Own:
			fmt.Printf("  %s%s%s %s%s%s: %s\n", colorDim, ts, colorReset, colorGreen, m.Username, colorReset, m.Text)
		default:
			fmt.Printf("  %s%s%s %s%s%s: %s\n", colorDim, ts, colorReset, colorCyan, m.Username, colorReset, m.Text)
		}
	}
}

// watch prints connection changes and the replies that do not land in a tab.
func watch(mgr *client.Manager) {
	states := mgr.WatchState()
	go func() {
		for s := range states {
			switch s {
			case client.Connected:
				fmt.Printf("  %s● connected%s\n", colorGreen, colorReset)
			case client.Reconnecting, client.Disconnected:
				fmt.Printf("  %s● %s%s\n", colorYellow, s, colorReset)
			}
		}
	}()

	client.On(mgr, func(e protocol.VoucherResult) {
		color := colorYellow
		if e.Amount > 0 {
			color = colorGreen
		}
		fmt.Printf("  %s🎁 %s%s\n", color, e.Message, colorReset)
	})
	client.On(mgr, func(e protocol.ErrorEvent) {
		fmt.Printf("  %s✗ %s%s\n", colorRed, e.Message, colorReset)
	})
	client.On(mgr, func(e protocol.RoomKicked) {
		printWarn(fmt.Sprintf("%s (room %s, by %s)", constants.MsgKicked, e.RoomID, e.By))
	})
	client.On(mgr, func(e protocol.KickResult) {
		printField("Kicked", fmt.Sprintf("%s from %s (%d kicks)", e.Target, e.RoomID, e.TargetKickCount), colorYellow)
	})
	client.On(mgr, func(protocol.Superseded) {
		printWarn(constants.MsgSuperseded + ". Send a message or /join to take the session back.")
	})
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
