// Package config resolves server and client settings from defaults, an
// optional .env file, an optional YAML config file, environment variables
// and command line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"roomchat/internal/constants"
	"roomchat/internal/logger"
	"roomchat/internal/store"
)

const EnvPrefix = "ROOMCHAT"

// Server configuration keys.
const (
	KeyPort            = "port"
	KeyRedisHost       = "redis.host"
	KeyRedisPort       = "redis.port"
	KeyRedisUsername   = "redis.username"
	KeyRedisPassword   = "redis.password"
	KeyRedisDB         = "redis.db"
	KeyLogLevel        = "log.level"
	KeyLogFormat       = "log.format"
	KeyRoomsFile       = "rooms.file"
	KeyAdminIDs        = "admin.ids"
	KeyAdminToken      = "admin.token"
	KeyAllowedOrigins  = "cors.origins"
	KeyCreditURL       = "credits.url"
	KeyAuditDir        = "audit.dir"
	KeyVoucherEnabled  = "voucher.enabled"
	KeyVoucherInterval = "voucher.interval"
	KeyVoucherExpiry   = "voucher.expiry"
	KeyVoucherMin      = "voucher.min"
	KeyVoucherMax      = "voucher.max"
	KeyVoucherCooldown = "voucher.cooldown"
	KeyVoucherLocale   = "voucher.locale"
	KeyOnlineTTL       = "presence.online_ttl"
	KeyMembershipTTL   = "presence.membership_ttl"
	KeySessionTTL      = "presence.session_ttl"
	KeyFloodRate       = "flood.rate"
	KeyFloodBurst      = "flood.burst"
	KeyFloodMarkTTL    = "flood.mark_ttl"
	KeyAdminThreshold  = "escalation.admin_threshold"
	KeyTargetThreshold = "escalation.target_threshold"
	KeyConnsPerIP      = "limits.conns_per_ip"
	KeyConnsPerUser    = "limits.conns_per_user"
	KeyTrustedProxies  = "proxies.trusted"
)

// Client configuration keys.
const (
	KeyServerURL      = "server"
	KeyCredentialFile = "credential_file"
	KeyHeartbeat      = "heartbeat"
	KeyConnectTimeout = "connect_timeout"
	KeyJitter         = "jitter"
)

// Voucher holds the generator and claim settings.
type Voucher struct {
	Enabled  bool
	Interval time.Duration
	Expiry   time.Duration
	Min      int64
	Max      int64
	Cooldown time.Duration
	Locale   string
}

// Presence holds the liveness TTLs.
type Presence struct {
	OnlineTTL     time.Duration
	MembershipTTL time.Duration
	SessionTTL    time.Duration
}

// Flood holds the per-connection message rate settings.
type Flood struct {
	Rate    float64
	Burst   int
	MarkTTL time.Duration
}

// Escalation holds kick thresholds; zero disables a rule.
type Escalation struct {
	AdminThreshold  int64
	TargetThreshold int64
}

// Server is the resolved configuration of the chat server.
type Server struct {
	Port            string
	Redis           store.RedisConfig
	Log             logger.Options
	RoomsFile       string
	AdminIDs        []string
	AdminToken      string
	AllowedOrigins  []string
	CreditURL       string
	AuditDir        string
	Voucher         Voucher
	Presence        Presence
	Flood           Flood
	Escalation      Escalation
	MaxConnsPerIP   int
	// MaxConnsPerUser caps sockets per user id; 0 disables the cap.
	MaxConnsPerUser int
	TrustedProxies  []string
}

// Client is the resolved configuration of the terminal client.
type Client struct {
	ServerURL      string
	CredentialFile string
	Heartbeat      time.Duration
	ConnectTimeout time.Duration
	Jitter         bool
	Log            logger.Options
}

// SetServerDefaults registers every server default on v.
func SetServerDefaults(v *viper.Viper) {
	v.SetDefault(KeyPort, constants.DefaultPort)
	v.SetDefault(KeyRedisHost, "")
	v.SetDefault(KeyRedisPort, "6379")
	v.SetDefault(KeyRedisUsername, "")
	v.SetDefault(KeyRedisPassword, "")
	v.SetDefault(KeyRedisDB, 0)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "text")
	v.SetDefault(KeyRoomsFile, "configs/rooms.yaml")
	v.SetDefault(KeyAdminIDs, []string{})
	v.SetDefault(KeyAdminToken, "")
	v.SetDefault(KeyAllowedOrigins, []string{})
	v.SetDefault(KeyCreditURL, "")
	v.SetDefault(KeyAuditDir, "")
	v.SetDefault(KeyVoucherEnabled, true)
	v.SetDefault(KeyVoucherInterval, constants.VoucherInterval)
	v.SetDefault(KeyVoucherExpiry, constants.VoucherExpiry)
	v.SetDefault(KeyVoucherMin, constants.VoucherMinAmount)
	v.SetDefault(KeyVoucherMax, constants.VoucherMaxAmount)
	v.SetDefault(KeyVoucherCooldown, constants.VoucherUserCooldown)
	v.SetDefault(KeyVoucherLocale, "id")
	v.SetDefault(KeyOnlineTTL, constants.OnlinePresenceTTL)
	v.SetDefault(KeyMembershipTTL, constants.DefaultTTL)
	v.SetDefault(KeySessionTTL, constants.DefaultTTL)
	v.SetDefault(KeyFloodRate, constants.FloodRatePerSecond)
	v.SetDefault(KeyFloodBurst, constants.FloodBurst)
	v.SetDefault(KeyFloodMarkTTL, constants.FloodMarkTTL)
	v.SetDefault(KeyAdminThreshold, constants.MaxAdminKicks)
	v.SetDefault(KeyTargetThreshold, constants.MaxTargetKicks)
	v.SetDefault(KeyConnsPerIP, constants.MaxConnectionsPerIP)
	v.SetDefault(KeyConnsPerUser, constants.MaxConnectionsPerUser)
	v.SetDefault(KeyTrustedProxies, constants.DefaultTrustedProxies)
}

// SetClientDefaults registers every client default on v.
func SetClientDefaults(v *viper.Viper) {
	v.SetDefault(KeyServerURL, constants.DefaultServerURL)
	v.SetDefault(KeyCredentialFile, "")
	v.SetDefault(KeyHeartbeat, constants.HeartbeatInterval)
	v.SetDefault(KeyConnectTimeout, constants.ConnectTimeout)
	v.SetDefault(KeyJitter, true)
	v.SetDefault(KeyLogLevel, "warn")
	v.SetDefault(KeyLogFormat, "text")
}

// BindServerFlags declares the server flags on fs and binds them to v.
func BindServerFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	fs.StringP("port", "p", constants.DefaultPort, "HTTP listen port")
	fs.String("redis-host", "", "Redis host (empty keeps state in memory)")
	fs.String("log-level", "info", "log level: debug, info, warn, error")
	fs.String("log-format", "text", "log format: text or json")
	fs.String("rooms", "configs/rooms.yaml", "room catalog YAML file")
	fs.StringSlice("admins", nil, "user ids allowed to kick")
	fs.Bool("voucher", true, "run the voucher generator")
	fs.StringSlice("trusted-proxies", nil, "CIDRs allowed to set X-Forwarded-For")

	return bindFlags(v, fs, map[string]string{
		KeyPort:           "port",
		KeyRedisHost:      "redis-host",
		KeyLogLevel:       "log-level",
		KeyLogFormat:      "log-format",
		KeyRoomsFile:      "rooms",
		KeyAdminIDs:       "admins",
		KeyVoucherEnabled: "voucher",
		KeyTrustedProxies: "trusted-proxies",
	})
}

// BindClientFlags declares the client flags on fs and binds them to v.
func BindClientFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	fs.StringP("server", "s", constants.DefaultServerURL, "chat server URL")
	fs.String("credential-file", "", "where the login is stored")
	fs.String("log-level", "warn", "log level: debug, info, warn, error")

	return bindFlags(v, fs, map[string]string{
		KeyServerURL:      "server",
		KeyCredentialFile: "credential-file",
		KeyLogLevel:       "log-level",
	})
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) error {
	for key, name := range keys {
		if err := v.BindPFlag(key, fs.Lookup(name)); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// Read prepares v to resolve settings: it loads .env when present, enables
// ROOMCHAT_* environment overrides, and reads cfgFile (or roomchat.yaml from
// the working directory) when one exists.
func Read(v *viper.Viper, cfgFile string) error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("⚠️  could not load .env", "error", err)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// the plain names match what deploy tooling already sets
	for key, env := range map[string]string{
		KeyPort:          "PORT",
		KeyRedisHost:     "REDIS_HOST",
		KeyRedisPort:     "REDIS_PORT",
		KeyRedisUsername: "REDIS_USERNAME",
		KeyRedisPassword: "REDIS_PASSWORD",
	} {
		if err := v.BindEnv(key, envName(key), env); err != nil {
			return fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(constants.AppName)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return fmt.Errorf("read config: %w", err)
		}
		return nil
	}
	slog.Debug("📄 config file loaded", "file", v.ConfigFileUsed())
	return nil
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.NewReplacer(".", "_").Replace(key))
}

// LoadServer resolves the server configuration from v.
func LoadServer(v *viper.Viper) (Server, error) {
	cfg := Server{
		Port: v.GetString(KeyPort),
		Redis: store.RedisConfig{
			Host:     v.GetString(KeyRedisHost),
			Port:     v.GetString(KeyRedisPort),
			Username: v.GetString(KeyRedisUsername),
			Password: v.GetString(KeyRedisPassword),
			DB:       v.GetInt(KeyRedisDB),
		},
		Log: logger.Options{
			Level:  v.GetString(KeyLogLevel),
			Format: v.GetString(KeyLogFormat),
		},
		RoomsFile:      v.GetString(KeyRoomsFile),
		AdminIDs:       splitList(v.GetStringSlice(KeyAdminIDs)),
		AdminToken:     v.GetString(KeyAdminToken),
		AllowedOrigins: splitList(v.GetStringSlice(KeyAllowedOrigins)),
		CreditURL:      v.GetString(KeyCreditURL),
		AuditDir:       v.GetString(KeyAuditDir),
		Voucher: Voucher{
			Enabled:  v.GetBool(KeyVoucherEnabled),
			Interval: v.GetDuration(KeyVoucherInterval),
			Expiry:   v.GetDuration(KeyVoucherExpiry),
			Min:      v.GetInt64(KeyVoucherMin),
			Max:      v.GetInt64(KeyVoucherMax),
			Cooldown: v.GetDuration(KeyVoucherCooldown),
			Locale:   v.GetString(KeyVoucherLocale),
		},
		Presence: Presence{
			OnlineTTL:     v.GetDuration(KeyOnlineTTL),
			MembershipTTL: v.GetDuration(KeyMembershipTTL),
			SessionTTL:    v.GetDuration(KeySessionTTL),
		},
		Flood: Flood{
			Rate:    v.GetFloat64(KeyFloodRate),
			Burst:   v.GetInt(KeyFloodBurst),
			MarkTTL: v.GetDuration(KeyFloodMarkTTL),
		},
		Escalation: Escalation{
			AdminThreshold:  v.GetInt64(KeyAdminThreshold),
			TargetThreshold: v.GetInt64(KeyTargetThreshold),
		},
		MaxConnsPerIP:   v.GetInt(KeyConnsPerIP),
		MaxConnsPerUser: v.GetInt(KeyConnsPerUser),
		TrustedProxies:  splitList(v.GetStringSlice(KeyTrustedProxies)),
	}
	return cfg, cfg.Validate()
}

// Validate reports the first setting that cannot work.
func (c Server) Validate() error {
	if _, err := strconv.ParseUint(c.Port, 10, 16); err != nil {
		return fmt.Errorf("invalid port %q", c.Port)
	}
	if err := logger.Validate(c.Log.Level); err != nil {
		return err
	}
	if c.Voucher.Min <= 0 || c.Voucher.Max < c.Voucher.Min {
		return fmt.Errorf("voucher amount range [%d, %d] is invalid", c.Voucher.Min, c.Voucher.Max)
	}
	if c.Voucher.Enabled && (c.Voucher.Interval <= 0 || c.Voucher.Expiry <= 0) {
		return errors.New("voucher interval and expiry must be positive")
	}
	if c.Presence.OnlineTTL <= 0 || c.Presence.MembershipTTL <= 0 || c.Presence.SessionTTL <= 0 {
		return errors.New("presence TTLs must be positive")
	}
	if c.Flood.Rate <= 0 || c.Flood.Burst <= 0 {
		return errors.New("flood rate and burst must be positive")
	}
	if c.Escalation.AdminThreshold < 0 || c.Escalation.TargetThreshold < 0 {
		return errors.New("escalation thresholds cannot be negative")
	}
	if c.MaxConnsPerIP < 0 || c.MaxConnsPerUser < 0 {
		return errors.New("connection limits cannot be negative")
	}
	return nil
}

// IsAdmin reports whether userID may kick.
func (c Server) IsAdmin(userID string) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// LoadClient resolves the client configuration from v.
func LoadClient(v *viper.Viper) (Client, error) {
	cfg := Client{
		ServerURL:      strings.TrimRight(v.GetString(KeyServerURL), "/"),
		CredentialFile: v.GetString(KeyCredentialFile),
		Heartbeat:      v.GetDuration(KeyHeartbeat),
		ConnectTimeout: v.GetDuration(KeyConnectTimeout),
		Jitter:         v.GetBool(KeyJitter),
		Log: logger.Options{
			Level:  v.GetString(KeyLogLevel),
			Format: v.GetString(KeyLogFormat),
			Output: os.Stderr,
		},
	}
	if cfg.ServerURL == "" {
		return cfg, errors.New("server URL is required")
	}
	if cfg.Heartbeat <= 0 || cfg.ConnectTimeout <= 0 {
		return cfg, errors.New("heartbeat and connect timeout must be positive")
	}
	return cfg, logger.Validate(cfg.Log.Level)
}

// splitList flattens comma separated entries, which is how list settings
// arrive from the environment.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
