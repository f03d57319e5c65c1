package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment string
	JWTSecret   string
	DBHost      string
	DBPort      string
	DBUsername  string
	DBPassword  string
	DBName      string
	DBSSLMode   string
	Port        string
	LogLevel    string
}

func NewConfig() (*Config, error) {
	env := os.Getenv("NODE_ENV")
	if env == "" {
		env = "development"
	}

	if env == "development" {
		if err := godotenv.Load(); err != nil {
			fmt.Println("Warning: .env file not found, using environment variables")
		}
	}

	config := &Config{
		Environment: env,
		JWTSecret:   os.Getenv("JWT_SECRET"),
		DBHost:      getEnvOrDefault("PG_HOST", "localhost"),
		DBPort:      getEnvOrDefault("PG_PORT", "5432"),
		DBUsername:  os.Getenv("PG_USER"),
		DBPassword:  os.Getenv("PG_PASSWD"),
		DBName:      os.Getenv("PG_DB"),
		DBSSLMode:   getEnvOrDefault("PG_SSLMODE", "disable"),
		Port:        getEnvOrDefault("PORT", "4001"),
		LogLevel:    getEnvOrDefault("LOG_LEVEL", "info"),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if c.DBName == "" {
		return fmt.Errorf("PG_DB is required")
	}

	if c.DBUsername == "" {
		return fmt.Errorf("PG_USER is required")
	}

	return nil
}

func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUsername,
		c.DBPassword,
		c.DBHost,
		c.DBPort,
		c.DBName,
		c.DBSSLMode,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
