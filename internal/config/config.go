/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the dispatch-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort            string `mapstructure:"SERVER_PORT"`
	DatabaseURL           string `mapstructure:"DATABASE_URL"`
	RedisURL              string `mapstructure:"REDIS_URL"`
	RedisPresencePrefix   string `mapstructure:"REDIS_PRESENCE_PREFIX"`
	RabbitMQURL           string `mapstructure:"RABBITMQ_URL"`
	DispatchEventQueue    string `mapstructure:"DISPATCH_EVENT_QUEUE"`
	ProcessorAPIBaseURL   string `mapstructure:"PROCESSOR_API_BASE_URL"`
	ProcessorAPIKey       string `mapstructure:"PROCESSOR_API_KEY"`
	JWTSecret             string `mapstructure:"JWT_SECRET"`
	SweepSchedule         string `mapstructure:"SWEEP_SCHEDULE"`
	DispatchWindowSeconds int    `mapstructure:"DISPATCH_WINDOW_SECONDS"`
	PresenceTTLSeconds    int    `mapstructure:"PRESENCE_TTL_SECONDS"`
	ScheduleBufferMinutes int    `mapstructure:"SCHEDULE_BUFFER_MINUTES"`
	PlatformFeePercent    int64  `mapstructure:"PLATFORM_FEE_PERCENT"`
	CancellationFinePct   int64  `mapstructure:"CANCELLATION_FINE_PERCENT"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("DISPATCH_EVENT_QUEUE", "dispatch_service.booking_events")
	viper.SetDefault("REDIS_PRESENCE_PREFIX", "groomnet:presence")
	viper.SetDefault("SWEEP_SCHEDULE", "@every 1m")
	viper.SetDefault("DISPATCH_WINDOW_SECONDS", 120)
	viper.SetDefault("PRESENCE_TTL_SECONDS", 90)
	viper.SetDefault("SCHEDULE_BUFFER_MINUTES", 90)
	viper.SetDefault("PLATFORM_FEE_PERCENT", 5)
	viper.SetDefault("CANCELLATION_FINE_PERCENT", 10)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "DISPATCH_REDIS_URL")
	_ = viper.BindEnv("REDIS_PRESENCE_PREFIX")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("DISPATCH_EVENT_QUEUE")
	_ = viper.BindEnv("PROCESSOR_API_BASE_URL")
	_ = viper.BindEnv("PROCESSOR_API_KEY")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("SWEEP_SCHEDULE")
	_ = viper.BindEnv("DISPATCH_WINDOW_SECONDS")
	_ = viper.BindEnv("PRESENCE_TTL_SECONDS")
	_ = viper.BindEnv("SCHEDULE_BUFFER_MINUTES")
	_ = viper.BindEnv("PLATFORM_FEE_PERCENT")
	_ = viper.BindEnv("CANCELLATION_FINE_PERCENT")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		// If the config file is not found, we can ignore the error.
		// For other errors, we should return them.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisPresencePrefix = strings.TrimSpace(config.RedisPresencePrefix)
	if config.RedisPresencePrefix == "" {
		config.RedisPresencePrefix = "groomnet:presence"
	}

	if strings.TrimSpace(config.SweepSchedule) == "" {
		config.SweepSchedule = "@every 1m"
	}
	if config.DispatchWindowSeconds <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive dispatch window configured; using default\" window_seconds=%d", config.DispatchWindowSeconds)
		config.DispatchWindowSeconds = 120
	}
	if config.PresenceTTLSeconds <= 0 {
		config.PresenceTTLSeconds = 90
	}
	if config.ScheduleBufferMinutes <= 0 {
		config.ScheduleBufferMinutes = 90
	}

	if config.PlatformFeePercent < 0 {
		log.Printf("level=warn component=config msg=\"negative platform fee percent configured; coercing to zero\" fee_percent=%d", config.PlatformFeePercent)
		config.PlatformFeePercent = 0
	}
	if config.PlatformFeePercent > 100 {
		log.Printf("level=warn component=config msg=\"platform fee percent too high; capping at 100\" fee_percent=%d", config.PlatformFeePercent)
		config.PlatformFeePercent = 100
	}
	if config.CancellationFinePct < 0 {
		log.Printf("level=warn component=config msg=\"negative cancellation fine percent configured; coercing to zero\" fine_percent=%d", config.CancellationFinePct)
		config.CancellationFinePct = 0
	}
	if config.CancellationFinePct > 100 {
		log.Printf("level=warn component=config msg=\"cancellation fine percent too high; capping at 100\" fine_percent=%d", config.CancellationFinePct)
		config.CancellationFinePct = 100
	}

	return
}
