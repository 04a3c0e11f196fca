package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	AppName         string
	Env             string // DEV (local; default), TEST, QA, PROD
	Build           string
	Debug           bool
	TestMode        bool
	WorkDir         string
	SecretKey       string
	FrontendBaseURL string
	RollbarToken    string
	SendgridApiKey  string

	defaultFromEmail string

	Server struct {
		Host                      string
		Address                   string
		DebugHost                 string
		ShutdownTimeout           time.Duration
		JWTExpirationDelta        time.Duration
		JWTRefreshExpirationDelta time.Duration
	}

	Database struct {
		Engine        string
		Host          string
		Port          string
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
	}

	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	Broker struct {
		URL      string
		Exchange string
	}

	Payment struct {
		Gateway          string // sandbox | omise
		Currency         string
		GatewayTimeout   time.Duration
		OmisePublicKey   string
		OmiseSecretKey   string
		OmiseAPIVersion  string
		SandboxLatency   time.Duration
		PaymentURLPrefix string
	}

	Enrollment struct {
		MaxActivationRetries int
		ActivationBackoff    time.Duration
	}

	Notification struct {
		VoteTTL time.Duration
	}

	Cart struct {
		TTL time.Duration // inactivity before a cart expires
	}

	RateLimit struct {
		Requests int
		Window   time.Duration
	}
}

func (c Config) DefaultFromEmail() mail.Address {
	addr, err := mail.ParseAddress(c.defaultFromEmail)
	if err != nil {
		return mail.Address{Name: c.AppName, Address: "noreply@localhost"}
	}
	return *addr
}

func (c Config) DatabaseAddress() string {
	return net.JoinHostPort(c.Database.Host, c.Database.Port)
}

// NewConfig loads the configuration from defaults, the optional `config/.env.<env>` file and the environment.
// Env vars are prefixed by the environment name, e.g. DEV_DATABASE_HOST.
func NewConfig() *Config {
	v := viper.New()
	v.SetTypeByDefaultValue(true)

	// defaults
	v.SetDefault("appName", "Academia")
	v.SetDefault("build", "develop")
	v.SetDefault("debug", true)
	v.SetDefault("testMode", false)
	v.SetDefault("secretKey", "poq5-wer)enb$+57=dz&uoxh2(h!x)#*c2(#yg4h^$cegm2emy")
	v.SetDefault("frontendBaseURL", "http://localhost:3000")
	v.SetDefault("defaultFromEmail", "Academia <noreply@localhost>")
	v.SetDefault("rollbarToken", "")
	v.SetDefault("sendgridApiKey", "")

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.shutdownTimeout", 10*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("server.jwtRefreshExpirationDelta", 4*time.Hour)

	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", "5432")
	v.SetDefault("database.name", "academia")
	v.SetDefault("database.user", "academia")
	v.SetDefault("database.password", "academia")
	v.SetDefault("database.adminUser", "")
	v.SetDefault("database.adminPassword", "")
	v.SetDefault("database.disableTLS", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("broker.url", "")
	v.SetDefault("broker.exchange", "academia.events")

	v.SetDefault("payment.gateway", "sandbox")
	v.SetDefault("payment.currency", "USD")
	v.SetDefault("payment.gatewayTimeout", 15*time.Second)
	v.SetDefault("payment.omisePublicKey", "")
	v.SetDefault("payment.omiseSecretKey", "")
	v.SetDefault("payment.omiseAPIVersion", "")
	v.SetDefault("payment.sandboxLatency", time.Duration(0))
	v.SetDefault("payment.paymentURLPrefix", "/payment/process/")

	v.SetDefault("enrollment.maxActivationRetries", 3)
	v.SetDefault("enrollment.activationBackoff", 30*time.Second)

	v.SetDefault("notification.voteTTL", 30*24*time.Hour)

	v.SetDefault("cart.ttl", 30*24*time.Hour)

	v.SetDefault("rateLimit.requests", 30)
	v.SetDefault("rateLimit.window", time.Minute)

	env := strings.ToUpper(os.Getenv("ENV"))
	if env == "" {
		env = "DEV"
	}
	if env == "TEST" {
		v.SetDefault("testMode", true)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	workDir := Getwd()
	dotEnvPath := filepath.Join(workDir, "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	conf := &Config{
		AppName:          v.GetString("appName"),
		Env:              env,
		Build:            v.GetString("build"),
		Debug:            v.GetBool("debug"),
		TestMode:         v.GetBool("testMode"),
		WorkDir:          workDir,
		SecretKey:        v.GetString("secretKey"),
		FrontendBaseURL:  v.GetString("frontendBaseURL"),
		RollbarToken:     v.GetString("rollbarToken"),
		SendgridApiKey:   v.GetString("sendgridApiKey"),
		defaultFromEmail: v.GetString("defaultFromEmail"),
	}

	conf.Server.Host = v.GetString("server.host")
	conf.Server.Address = v.GetString("server.address")
	conf.Server.DebugHost = v.GetString("server.debugHost")
	conf.Server.ShutdownTimeout = v.GetDuration("server.shutdownTimeout")
	conf.Server.JWTExpirationDelta = v.GetDuration("server.jwtExpirationDelta")
	conf.Server.JWTRefreshExpirationDelta = v.GetDuration("server.jwtRefreshExpirationDelta")

	conf.Database.Engine = v.GetString("database.engine")
	conf.Database.Host = v.GetString("database.host")
	conf.Database.Port = v.GetString("database.port")
	conf.Database.Name = v.GetString("database.name")
	conf.Database.User = v.GetString("database.user")
	conf.Database.Password = v.GetString("database.password")
	conf.Database.AdminUser = v.GetString("database.adminUser")
	conf.Database.AdminPassword = v.GetString("database.adminPassword")
	conf.Database.DisableTLS = v.GetBool("database.disableTLS")

	conf.Redis.Addr = v.GetString("redis.addr")
	conf.Redis.Password = v.GetString("redis.password")
	conf.Redis.DB = v.GetInt("redis.db")

	conf.Broker.URL = v.GetString("broker.url")
	conf.Broker.Exchange = v.GetString("broker.exchange")

	conf.Payment.Gateway = v.GetString("payment.gateway")
	conf.Payment.Currency = v.GetString("payment.currency")
	conf.Payment.GatewayTimeout = v.GetDuration("payment.gatewayTimeout")
	conf.Payment.OmisePublicKey = v.GetString("payment.omisePublicKey")
	conf.Payment.OmiseSecretKey = v.GetString("payment.omiseSecretKey")
	conf.Payment.OmiseAPIVersion = v.GetString("payment.omiseAPIVersion")
	conf.Payment.SandboxLatency = v.GetDuration("payment.sandboxLatency")
	conf.Payment.PaymentURLPrefix = v.GetString("payment.paymentURLPrefix")

	conf.Enrollment.MaxActivationRetries = v.GetInt("enrollment.maxActivationRetries")
	conf.Enrollment.ActivationBackoff = v.GetDuration("enrollment.activationBackoff")

	conf.Notification.VoteTTL = v.GetDuration("notification.voteTTL")

	conf.Cart.TTL = v.GetDuration("cart.ttl")

	conf.RateLimit.Requests = v.GetInt("rateLimit.requests")
	conf.RateLimit.Window = v.GetDuration("rateLimit.window")

	return conf
}

// NewTestConfig returns the configuration used by tests: no outside services, sandbox payments.
func NewTestConfig() *Config {
	conf := &Config{
		AppName:          "Academia",
		Env:              "TEST",
		Build:            "test",
		TestMode:         true,
		SecretKey:        "test-secret-key",
		FrontendBaseURL:  "http://localhost:3000",
		defaultFromEmail: "Academia <noreply@localhost>",
	}
	conf.Server.JWTExpirationDelta = time.Hour
	conf.Server.JWTRefreshExpirationDelta = time.Hour
	conf.Payment.Gateway = "sandbox"
	conf.Payment.Currency = "USD"
	conf.Payment.GatewayTimeout = 2 * time.Second
	conf.Payment.PaymentURLPrefix = "/payment/process/"
	conf.Enrollment.MaxActivationRetries = 3
	conf.Enrollment.ActivationBackoff = 30 * time.Second
	conf.Notification.VoteTTL = 30 * 24 * time.Hour
	conf.Cart.TTL = 30 * 24 * time.Hour
	return conf
}
