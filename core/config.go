package core

import (
	"log"
	"net"
	"net/mail"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

type (
	serverConfig struct {
		Address            string
		Host               string
		DebugHost          string
		ShutdownTimeout    time.Duration
		JWTExpirationDelta time.Duration
	}

	dbConfig struct {
		Engine        string
		Host          string
		Port          int
		Name          string
		User          string
		Password      string
		AdminUser     string
		AdminPassword string
		DisableTLS    bool
		MaxOpenConns  int
	}

	redisConfig struct {
		Addr     string
		Password string
		DB       int
		LockTTL  time.Duration
	}

	syncConfig struct {
		Workers                int
		QueueSize              int
		ReconcileWait          time.Duration
		LockTimeout            time.Duration
		HealthWarningThreshold int
		PinLength              int
	}

	Config struct {
		Env              string
		Build            string
		Debug            bool
		TestMode         bool
		AppName          string
		SecretKey        string
		RollbarToken     string
		Storage          string
		SeedFile         string
		NotifyEmail      string
		DefaultFromEmail mail.Address
		SendgridApiKey   string
		Server           serverConfig
		Database         dbConfig
		Redis            redisConfig
		Sync             syncConfig
	}
)

// Address returns the host:port pair of the database server.
func (c dbConfig) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func NewConfig() *Config {
	v := viper.New()

	// defaults
	v.SetTypeByDefaultValue(true)
	v.SetDefault("debug", true)
	v.SetDefault("build", "dev")
	v.SetDefault("appName", "Feeledger")
	v.SetDefault("secretKey", "0f9b$k2=xw!pl7u#ze4t)q(vm8c&ar1s_n6jh5yd+og3ei")
	v.SetDefault("storage", StoragePostgres)
	v.SetDefault("defaultFromEmail", "noreply@localhost")
	v.SetDefault("server.address", ":8000")
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.debugHost", ":4000")
	v.SetDefault("server.shutdownTimeout", 10*time.Second)
	v.SetDefault("server.jwtExpirationDelta", 7*24*time.Hour)
	v.SetDefault("database.engine", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "feeledger")
	v.SetDefault("database.user", "feeledger")
	v.SetDefault("database.maxOpenConns", 20)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lockTTL", 5*time.Minute)
	v.SetDefault("sync.workers", 4)
	v.SetDefault("sync.queueSize", 64)
	v.SetDefault("sync.reconcileWait", time.Minute)
	v.SetDefault("sync.lockTimeout", 30*time.Second)
	v.SetDefault("sync.healthWarningThreshold", 10)
	v.SetDefault("sync.pinLength", 10)

	env := strings.ToUpper(os.Getenv("ENV")) // DEV (local; default), TEST, QA, PROD
	switch env {
	case "":
		env = "DEV"
	case "TEST":
		v.SetDefault("testMode", true)
		v.SetDefault("storage", StorageMemory)
	}
	v.SetEnvPrefix(env)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// load .env if it exists (ignore if it does not)
	dotEnvPath := filepath.Join(Getwd(), "config", ".env."+strings.ToLower(env))
	if _, err := os.Stat(dotEnvPath); err == nil {
		if err := godotenv.Load(dotEnvPath); err != nil {
			log.Fatalf("config.godotenv(%s): %v", dotEnvPath, err)
		}
	} else if !os.IsNotExist(err) {
		log.Fatalf("config.os.Stat(%s): %v", dotEnvPath, err)
	}
	v.AutomaticEnv()

	fromEmail, err := mail.ParseAddress(v.GetString("defaultFromEmail"))
	if err != nil {
		log.Fatalf("config.defaultFromEmail: %v", err)
	}

	return &Config{
		Env:              env,
		Build:            v.GetString("build"),
		Debug:            v.GetBool("debug"),
		TestMode:         v.GetBool("testMode"),
		AppName:          v.GetString("appName"),
		SecretKey:        v.GetString("secretKey"),
		RollbarToken:     v.GetString("rollbarToken"),
		Storage:          v.GetString("storage"),
		SeedFile:         v.GetString("seedFile"),
		NotifyEmail:      v.GetString("notifyEmail"),
		DefaultFromEmail: *fromEmail,
		SendgridApiKey:   v.GetString("sendgridApiKey"),
		Server: serverConfig{
			Address:            v.GetString("server.address"),
			Host:               v.GetString("server.host"),
			DebugHost:          v.GetString("server.debugHost"),
			ShutdownTimeout:    v.GetDuration("server.shutdownTimeout"),
			JWTExpirationDelta: v.GetDuration("server.jwtExpirationDelta"),
		},
		Database: dbConfig{
			Engine:        v.GetString("database.engine"),
			Host:          v.GetString("database.host"),
			Port:          v.GetInt("database.port"),
			Name:          v.GetString("database.name"),
			User:          v.GetString("database.user"),
			Password:      v.GetString("database.password"),
			AdminUser:     v.GetString("database.adminUser"),
			AdminPassword: v.GetString("database.adminPassword"),
			DisableTLS:    v.GetBool("database.disableTLS"),
			MaxOpenConns:  v.GetInt("database.maxOpenConns"),
		},
		Redis: redisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
			LockTTL:  v.GetDuration("redis.lockTTL"),
		},
		Sync: syncConfig{
			Workers:                v.GetInt("sync.workers"),
			QueueSize:              v.GetInt("sync.queueSize"),
			ReconcileWait:          v.GetDuration("sync.reconcileWait"),
			LockTimeout:            v.GetDuration("sync.lockTimeout"),
			HealthWarningThreshold: v.GetInt("sync.healthWarningThreshold"),
			PinLength:              v.GetInt("sync.pinLength"),
		},
	}
}

// NewTestConfig returns a Config suitable for tests: in-memory storage, no external services.
func NewTestConfig() *Config {
	return &Config{
		Env:              "TEST",
		Build:            "test",
		TestMode:         true,
		AppName:          "Feeledger",
		SecretKey:        "test-secret",
		Storage:          StorageMemory,
		DefaultFromEmail: mail.Address{Name: "Feeledger", Address: "noreply@localhost"},
		Server: serverConfig{
			ShutdownTimeout:    5 * time.Second,
			JWTExpirationDelta: time.Hour,
		},
		Sync: syncConfig{
			Workers:                2,
			QueueSize:              16,
			ReconcileWait:          5 * time.Second,
			LockTimeout:            5 * time.Second,
			HealthWarningThreshold: 10,
			PinLength:              10,
		},
	}
}
