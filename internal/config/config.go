package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"logLevel"`
	Server      struct {
		Port         int           `mapstructure:"port"`
		WebhookToken string        `mapstructure:"webhookToken"` // shared-secret token for webhook endpoints
		HealthPort   int           `mapstructure:"healthPort"`   // health + metrics server
		ReadTimeout  time.Duration `mapstructure:"readTimeout"`
		WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	} `mapstructure:"server"`
	NATS struct {
		URL                 string             `mapstructure:"url"`
		Bus                 ConsumerNatsConfig `mapstructure:"bus"`                 // automation-bus consumer
		NotificationSubject string             `mapstructure:"notificationSubject"` // base subject for emitted notifications
		DLQStream           string             `mapstructure:"dlqStream"`
		DLQSubject          string             `mapstructure:"dlqSubject"`
		DLQWorkers          int                `mapstructure:"dlqWorkers"`
		DLQBaseDelayMinutes int                `mapstructure:"dlqBaseDelayMinutes"`
		DLQMaxDelayMinutes  int                `mapstructure:"dlqMaxDelayMinutes"`
		DLQMaxAgeDays       int                `mapstructure:"dlqMaxAgeDays"`
		DLQMaxDeliver       int                `mapstructure:"dlqMaxDeliver"`
		DLQAckWait          time.Duration      `mapstructure:"dlqAckWait"`
		DLQMaxAckPending    int                `mapstructure:"dlqMaxAckPending"`
	} `mapstructure:"nats"`
	Database struct {
		PostgresDSN         string `mapstructure:"postgresDSN"`
		PostgresAutoMigrate bool   `mapstructure:"postgresAutoMigrate"`
		QueuePath           string `mapstructure:"queuePath"` // sqlite file backing the offline queue
	} `mapstructure:"database"`
	Clinic struct {
		ID string `mapstructure:"id"`
	} `mapstructure:"clinic"`
	Platform struct {
		BaseURL     string        `mapstructure:"baseURL"`
		AccessToken string        `mapstructure:"accessToken"`
		AccountID   string        `mapstructure:"accountID"`
		InboxID     string        `mapstructure:"inboxID"`
		Timeout     time.Duration `mapstructure:"timeout"` // hung outbound calls are failed at this deadline
	} `mapstructure:"platform"`
	Dedup struct {
		TTL        time.Duration `mapstructure:"ttl"`
		SweepEvery time.Duration `mapstructure:"sweepEvery"`
		MaxEntries int           `mapstructure:"maxEntries"`
	} `mapstructure:"dedup"`
	Offline struct {
		ReplayEvery time.Duration `mapstructure:"replayEvery"` // fallback replay timer
		ProbeEvery  time.Duration `mapstructure:"probeEvery"`  // connectivity probe interval
		PresenceTTL time.Duration `mapstructure:"presenceTTL"` // how long a read action counts as actively viewing
	} `mapstructure:"offline"`
	Metrics struct {
		Enabled bool `mapstructure:"enabled"`
	} `mapstructure:"metrics"`
	WorkerPools struct {
		Notifier NotifierPoolConfig `mapstructure:"notifier"`
	} `mapstructure:"workerPools"`
}

// NotifierPoolConfig holds configuration for the notification emitter pool.
// The pool never blocks callers; sizing only bounds concurrent deliveries.
type NotifierPoolConfig struct {
	PoolSize   int           `mapstructure:"poolSize"`
	ExpiryTime time.Duration `mapstructure:"expiryTime"`
}

// ConsumerNatsConfig holds configuration specific to a NATS consumer
type ConsumerNatsConfig struct {
	MaxAge       int64         `mapstructure:"maxAge"` // max age of messages in days
	Stream       string        `mapstructure:"stream"`
	Consumer     string        `mapstructure:"consumer"` // durable name
	QueueGroup   string        `mapstructure:"group"`
	SubjectList  []string      `mapstructure:"subjectList"`
	MaxDeliver   int           `mapstructure:"maxDeliver"`
	NakBaseDelay time.Duration `mapstructure:"nakBaseDelay"`
	NakMaxDelay  time.Duration `mapstructure:"nakMaxDelay"`
}

// LoadConfig reads configuration from file or environment variables
func LoadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("environment", "development")
	v.SetDefault("logLevel", "info")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.healthPort", 8081)
	v.SetDefault("server.readTimeout", 15*time.Second)
	v.SetDefault("server.writeTimeout", 15*time.Second)
	v.SetDefault("metrics.enabled", true)

	v.SetDefault("platform.timeout", 10*time.Second)

	v.SetDefault("dedup.ttl", 10*time.Minute)
	v.SetDefault("dedup.sweepEvery", time.Minute)
	v.SetDefault("dedup.maxEntries", 10000)

	v.SetDefault("offline.replayEvery", 2*time.Minute)
	v.SetDefault("offline.probeEvery", 15*time.Second)
	v.SetDefault("offline.presenceTTL", time.Minute)

	v.SetDefault("database.queuePath", "offline_queue.db")

	v.SetDefault("nats.notificationSubject", "v1.notifications")
	v.SetDefault("nats.dlqWorkers", 4)
	v.SetDefault("nats.dlqBaseDelayMinutes", 1)
	v.SetDefault("nats.dlqMaxDelayMinutes", 15)

	v.SetDefault("workerPools.notifier.poolSize", 4)
	v.SetDefault("workerPools.notifier.expiryTime", time.Minute)

	v.SetConfigName("default")
	v.SetConfigType("yaml")

	if path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("./internal/config")
	v.AddConfigPath("/etc/clinic-inbox-sync")

	if err := v.ReadInConfig(); err != nil {
		// Missing config file is fine, env vars still apply
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, Config{})

	// Read directly from ENV for critical values
	if dsn := os.Getenv("POSTGRES_DSN"); dsn != "" {
		v.Set("database.postgresDSN", dsn)
	}
	if lgLevel := os.Getenv("LOG_LEVEL"); lgLevel != "" {
		v.Set("logLevel", lgLevel)
	}
	if url := os.Getenv("NATS_URL"); url != "" {
		v.Set("nats.url", url)
	}
	if clinic := os.Getenv("CLINIC_ID"); clinic != "" {
		v.Set("clinic.id", clinic)
	}
	if token := os.Getenv("PLATFORM_ACCESS_TOKEN"); token != "" {
		v.Set("platform.accessToken", token)
	}
	if token := os.Getenv("WEBHOOK_TOKEN"); token != "" {
		v.Set("server.webhookToken", token)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &config, nil
}

// bindEnvs recursively binds environment variables to config struct fields
func bindEnvs(v *viper.Viper, cfg interface{}, parts ...string) {
	ifv := reflect.ValueOf(cfg)
	ift := reflect.TypeOf(cfg)
	for i := 0; i < ift.NumField(); i++ {
		fieldVal := ifv.Field(i)
		fieldType := ift.Field(i)

		tag := fieldType.Tag.Get("mapstructure")
		if tag == "" || tag == "-" {
			continue
		}

		path := append(parts, tag)
		key := strings.Join(path, ".")

		if fieldType.Type.Kind() == reflect.Struct {
			bindEnvs(v, fieldVal.Interface(), path...)
			continue
		}

		_ = v.BindEnv(key)
	}
}
