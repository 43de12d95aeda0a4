// Package config loads service configuration from the environment and
// deployment specs from YAML.
package config

import (
	"os"
	"strings"
)

// ServiceConfig is the process-level configuration.
type ServiceConfig struct {
	Addr        string
	DatabaseURL string

	APIToken  string
	JWTSecret string

	KafkaBrokers []string
	KafkaTopic   string

	ArchiveBucket string
	ArchivePrefix string
}

const (
	defaultAddr       = ":8040"
	defaultKafkaTopic = "braincanary.events"
)

// LoadService reads the environment. DatabaseURL may be empty, in which case
// the service runs on the in-memory store and loses state on restart.
func LoadService() (ServiceConfig, error) {
	cfg := ServiceConfig{
		Addr:          getEnv("BRAINCANARY_ADDR", defaultAddr),
		DatabaseURL:   firstNonEmpty(os.Getenv("BRAINCANARY_DATABASE_URL"), os.Getenv("DATABASE_URL")),
		APIToken:      os.Getenv("BRAINCANARY_API_TOKEN"),
		JWTSecret:     os.Getenv("BRAINCANARY_JWT_SECRET"),
		KafkaTopic:    getEnv("BRAINCANARY_KAFKA_TOPIC", defaultKafkaTopic),
		ArchiveBucket: os.Getenv("BRAINCANARY_ARCHIVE_BUCKET"),
		ArchivePrefix: os.Getenv("BRAINCANARY_ARCHIVE_PREFIX"),
	}
	if brokers := os.Getenv("BRAINCANARY_KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
