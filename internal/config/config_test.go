package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Setenv("CLIPPING_TEST_DB_PASSWORD", "s3cret")

	tests := []struct {
		name      string
		filePath  string
		wantErr   bool
		errString string
	}{
		{
			name:     "valid config file",
			filePath: "testdata/valid_config.yaml",
			wantErr:  false,
		},
		{
			name:      "non-existent file",
			filePath:  "testdata/nonexistent.yaml",
			wantErr:   true,
			errString: "failed to read config file",
		},
		{
			name:      "malformed yaml",
			filePath:  "testdata/malformed.yaml",
			wantErr:   true,
			errString: "failed to parse config file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(tt.filePath)

			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errString)
				assert.Nil(t, cfg)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, cfg)

			assert.Equal(t, 8080, cfg.Server.Port)
			assert.Equal(t, "localhost", cfg.Database.Host)
			assert.Equal(t, "s3cret", cfg.Database.Password)
			assert.Equal(t, "clippings_db", cfg.Database.Database)
			assert.Equal(t, "clippings.jobs", cfg.RabbitMQ.Queue.Name)
			assert.Equal(t, "clippings.jobs.dlx", cfg.RabbitMQ.DeadLetter.Exchange)
			assert.Equal(t, "clippings.jobs.dead", cfg.RabbitMQ.DeadLetter.Queue)
			assert.Equal(t, 2, cfg.Worker.Concurrency)
			assert.Equal(t, 2, cfg.RabbitMQ.Consumer.PrefetchCount)
			assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, cfg.Automation.Backoff)
			assert.Equal(t, 15*time.Minute, cfg.Automation.AttemptTimeout)
			assert.Equal(t, []string{"example.com"}, cfg.Automation.AllowedDomains)
			assert.Equal(t, []string{"json", "markdown", "pdf"}, cfg.Storage.Formats)
			assert.Equal(t, "clipping-worker-service", cfg.App.Name)
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()

	assert.Equal(t, "clippings.jobs", cfg.RabbitMQ.Queue.Name)
	assert.Equal(t, 3, cfg.Worker.Concurrency)
	assert.Equal(t, 3, cfg.RabbitMQ.Consumer.PrefetchCount)
	assert.Equal(t, 5, cfg.Worker.MaxRedeliveries)
	assert.Equal(t, 3, cfg.Automation.MaxAttempts)
	assert.Equal(t, []time.Duration{10 * time.Second, 15 * time.Second, 20 * time.Second}, cfg.Automation.Backoff)
	assert.Equal(t, time.Hour, cfg.Automation.AttemptTimeout)
	assert.Equal(t, 40, cfg.Automation.MaxSteps)
	assert.Equal(t, 0.005, cfg.LLM.InputCostPer1K)
	assert.Equal(t, 0.015, cfg.LLM.OutputCostPer1K)
	assert.Equal(t, "clippings", cfg.Storage.Bucket)
	assert.Equal(t, "LEAR", cfg.Clipping.Client)
	assert.Equal(t, 15, cfg.Clipping.MaxItems)
	assert.Equal(t, "America/Sao_Paulo", cfg.Scheduler.Timezone)
	assert.Empty(t, cfg.RabbitMQ.DeadLetter.Exchange, "dead letter names only derived when enabled")
}

func validConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{Port: 8080},
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			Database: "clippings_db",
		},
		RabbitMQ: RabbitMQConfig{
			Host: "localhost",
			Port: 5672,
		},
		Scheduler: SchedulerConfig{Instruction: "Colete notícias"},
	}
	cfg.ApplyDefaults()
	return cfg
}

func TestConfig_ValidateWorker(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(c *Config)
		errString string
	}{
		{
			name:   "valid config",
			mutate: func(c *Config) {},
		},
		{
			name:      "empty database host",
			mutate:    func(c *Config) { c.Database.Host = "" },
			errString: "database host is required",
		},
		{
			name:      "empty database name",
			mutate:    func(c *Config) { c.Database.Database = "" },
			errString: "database name is required",
		},
		{
			name:      "invalid rabbitmq port",
			mutate:    func(c *Config) { c.RabbitMQ.Port = 0 },
			errString: "invalid rabbitmq port",
		},
		{
			name:      "zero concurrency",
			mutate:    func(c *Config) { c.Worker.Concurrency = -1 },
			errString: "worker concurrency",
		},
		{
			name:      "negative backoff",
			mutate:    func(c *Config) { c.Automation.Backoff = []time.Duration{-time.Second} },
			errString: "backoff",
		},
		{
			name:      "unknown format",
			mutate:    func(c *Config) { c.Storage.Formats = []string{"docx"} },
			errString: "unsupported artifact format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := cfg.ValidateWorker()
			if tt.errString == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errString)
		})
	}
}

func TestConfig_ValidateAPI(t *testing.T) {
	t.Run("invalid port file", func(t *testing.T) {
		cfg, err := Load("testdata/invalid_port.yaml")
		require.NoError(t, err)

		err = cfg.ValidateAPI()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid server port")
	})

	t.Run("missing database file", func(t *testing.T) {
		cfg, err := Load("testdata/missing_database.yaml")
		require.NoError(t, err)

		err = cfg.ValidateAPI()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "database host is required")
	})

	t.Run("valid", func(t *testing.T) {
		assert.NoError(t, validConfig().ValidateAPI())
	})
}

func TestConfig_ValidateScheduler(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.ValidateScheduler())

	cfg.Scheduler.Timezone = "Mars/Olympus"
	err := cfg.ValidateScheduler()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid scheduler timezone")

	cfg = validConfig()
	cfg.Scheduler.Instruction = ""
	assert.Error(t, cfg.ValidateScheduler())
}

func TestDatabaseConfig_URL(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "clippings"}
	assert.Equal(t, "postgres://u:p@db:5432/clippings?sslmode=disable", d.URL())
}
