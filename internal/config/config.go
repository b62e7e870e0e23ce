package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Config represents the complete application configuration.
// It is loaded once at process start and passed by pointer into constructors.
type Config struct {
	App          AppConfig          `yaml:"app"`
	Logging      LoggingConfig      `yaml:"logging"`
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	RabbitMQ     RabbitMQConfig     `yaml:"rabbitmq"`
	Redis        RedisConfig        `yaml:"redis"`
	Worker       WorkerConfig       `yaml:"worker"`
	LLM          LLMConfig          `yaml:"llm"`
	Automation   AutomationConfig   `yaml:"automation"`
	Clipping     ClippingConfig     `yaml:"clipping"`
	Storage      StorageConfig      `yaml:"storage"`
	Notification NotificationConfig `yaml:"notification"`
	Scheduler    SchedulerConfig    `yaml:"scheduler"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// URL returns the database connection string in URL form, as golang-migrate expects it.
func (d DatabaseConfig) URL() string {
	sslMode := d.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.Database, sslMode)
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	DeadLetter DeadLetterConfig `yaml:"dead_letter"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`
}

// DeadLetterConfig names the exchange and queue that receive rejected deliveries
type DeadLetterConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exchange string `yaml:"exchange"`
	Queue    string `yaml:"queue"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// RedisConfig holds the redelivery counter store settings. An empty URL disables Redis.
type RedisConfig struct {
	URL       string        `yaml:"url"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	ID              string        `yaml:"id"`
	Concurrency     int           `yaml:"concurrency"`
	MaxRedeliveries int           `yaml:"max_redeliveries"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// LLMConfig selects the language model provider and its pricing
type LLMConfig struct {
	Provider         string  `yaml:"provider"` // anthropic, gemini
	Model            string  `yaml:"model"`
	AnthropicAPIKey  string  `yaml:"anthropic_api_key"`
	GeminiAPIKey     string  `yaml:"gemini_api_key"`
	Temperature      float64 `yaml:"temperature"`
	MaxTokens        int     `yaml:"max_tokens"`
	InputCostPer1K   float64 `yaml:"input_cost_per_1k"`
	OutputCostPer1K  float64 `yaml:"output_cost_per_1k"`
	PlannerMaxTokens int     `yaml:"planner_max_tokens"`
}

// AutomationConfig holds browser backend and retry settings
type AutomationConfig struct {
	BackendURL       string          `yaml:"backend_url"`
	Token            string          `yaml:"token"`
	MaxAttempts      int             `yaml:"max_attempts"`
	Backoff          []time.Duration `yaml:"backoff"`
	AttemptTimeout   time.Duration   `yaml:"attempt_timeout"`
	ProbeTimeout     time.Duration   `yaml:"probe_timeout"`
	MaxSteps         int             `yaml:"max_steps"`
	ProgressInterval time.Duration   `yaml:"progress_interval"`
	ObserverGrace    time.Duration   `yaml:"observer_grace"`
	AllowedDomains   []string        `yaml:"allowed_domains"`
	MaxPageChars     int             `yaml:"max_page_chars"`
}

// ClippingConfig holds the task template values
type ClippingConfig struct {
	Client   string   `yaml:"client"`
	Period   string   `yaml:"period"`
	MaxItems int      `yaml:"max_items"`
	MinItems int      `yaml:"min_items"`
	Site     string   `yaml:"site"`
	Keywords []string `yaml:"keywords"`
}

// StorageConfig holds object store and local fallback settings
type StorageConfig struct {
	Endpoint     string   `yaml:"endpoint"`
	Region       string   `yaml:"region"`
	AccessKey    string   `yaml:"access_key"`
	SecretKey    string   `yaml:"secret_key"`
	Bucket       string   `yaml:"bucket"`
	UsePathStyle bool     `yaml:"use_path_style"`
	WorkspaceDir string   `yaml:"workspace_dir"`
	Formats      []string `yaml:"formats"`
}

// NotificationConfig holds channel credentials
type NotificationConfig struct {
	WebhookURL     string        `yaml:"webhook_url"`
	WebhookTimeout time.Duration `yaml:"webhook_timeout"`
	SMTP           SMTPConfig    `yaml:"smtp"`
}

// SMTPConfig holds SMTP delivery settings
type SMTPConfig struct {
	Host     string   `yaml:"host"`
	Port     int      `yaml:"port"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	From     string   `yaml:"from"`
	FromName string   `yaml:"from_name"`
	To       []string `yaml:"to"`
}

// SchedulerConfig holds cron producer settings
type SchedulerConfig struct {
	Spec        string         `yaml:"spec"`
	Timezone    string         `yaml:"timezone"`
	Instruction string         `yaml:"instruction"`
	Parameters  map[string]any `yaml:"parameters"`
}

// Load reads and parses the configuration file. ${VAR} references are
// expanded from the environment before parsing.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.ApplyDefaults()
	return &config, nil
}

// ApplyDefaults fills unset fields with the pipeline defaults
func (c *Config) ApplyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	if c.RabbitMQ.Queue.Name == "" {
		c.RabbitMQ.Queue.Name = "clippings.jobs"
	}
	if c.RabbitMQ.RoutingKey == "" {
		c.RabbitMQ.RoutingKey = c.RabbitMQ.Queue.Name
	}
	if c.RabbitMQ.Exchange.Type == "" {
		c.RabbitMQ.Exchange.Type = "direct"
	}
	if c.RabbitMQ.DeadLetter.Enabled {
		if c.RabbitMQ.DeadLetter.Exchange == "" {
			c.RabbitMQ.DeadLetter.Exchange = c.RabbitMQ.Queue.Name + ".dlx"
		}
		if c.RabbitMQ.DeadLetter.Queue == "" {
			c.RabbitMQ.DeadLetter.Queue = c.RabbitMQ.Queue.Name + ".dead"
		}
	}
	if c.RabbitMQ.Connection.RetryAttempts == 0 {
		c.RabbitMQ.Connection.RetryAttempts = 5
	}
	if c.RabbitMQ.Connection.RetryInterval == 0 {
		c.RabbitMQ.Connection.RetryInterval = 5 * time.Second
	}

	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "clipping:"
	}
	if c.Redis.TTL == 0 {
		c.Redis.TTL = 24 * time.Hour
	}

	if c.Worker.Concurrency == 0 {
		c.Worker.Concurrency = 3
	}
	if c.RabbitMQ.Consumer.PrefetchCount == 0 {
		c.RabbitMQ.Consumer.PrefetchCount = c.Worker.Concurrency
	}
	if c.Worker.MaxRedeliveries == 0 {
		c.Worker.MaxRedeliveries = 5
	}
	if c.Worker.ShutdownTimeout == 0 {
		c.Worker.ShutdownTimeout = 30 * time.Second
	}

	if c.LLM.Provider == "" {
		c.LLM.Provider = "anthropic"
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.2
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 300
	}
	if c.LLM.PlannerMaxTokens == 0 {
		c.LLM.PlannerMaxTokens = 1024
	}
	if c.LLM.InputCostPer1K == 0 {
		c.LLM.InputCostPer1K = 0.005
	}
	if c.LLM.OutputCostPer1K == 0 {
		c.LLM.OutputCostPer1K = 0.015
	}

	if c.Automation.BackendURL == "" {
		c.Automation.BackendURL = "http://browserless:3000"
	}
	if c.Automation.MaxAttempts == 0 {
		c.Automation.MaxAttempts = 3
	}
	if len(c.Automation.Backoff) == 0 {
		c.Automation.Backoff = []time.Duration{10 * time.Second, 15 * time.Second, 20 * time.Second}
	}
	if c.Automation.AttemptTimeout == 0 {
		c.Automation.AttemptTimeout = 3600 * time.Second
	}
	if c.Automation.ProbeTimeout == 0 {
		c.Automation.ProbeTimeout = 10 * time.Second
	}
	if c.Automation.MaxSteps == 0 {
		c.Automation.MaxSteps = 40
	}
	if c.Automation.ProgressInterval == 0 {
		c.Automation.ProgressInterval = 30 * time.Second
	}
	if c.Automation.ObserverGrace == 0 {
		c.Automation.ObserverGrace = 5 * time.Second
	}
	if len(c.Automation.AllowedDomains) == 0 {
		c.Automation.AllowedDomains = []string{"automotivebusiness.com.br", "www.automotivebusiness.com.br"}
	}
	if c.Automation.MaxPageChars == 0 {
		c.Automation.MaxPageChars = 12000
	}

	if c.Clipping.Client == "" {
		c.Clipping.Client = "LEAR"
	}
	if c.Clipping.Period == "" {
		c.Clipping.Period = "últimos 30 dias"
	}
	if c.Clipping.MaxItems == 0 {
		c.Clipping.MaxItems = 15
	}
	if c.Clipping.MinItems == 0 {
		c.Clipping.MinItems = 3
	}
	if c.Clipping.Site == "" {
		c.Clipping.Site = "https://www.automotivebusiness.com.br/"
	}

	if c.Storage.Bucket == "" {
		c.Storage.Bucket = "clippings"
	}
	if c.Storage.Region == "" {
		c.Storage.Region = "us-east-1"
	}
	if c.Storage.WorkspaceDir == "" {
		c.Storage.WorkspaceDir = "./workspace"
	}
	if len(c.Storage.Formats) == 0 {
		c.Storage.Formats = []string{"json", "markdown", "report"}
	}

	if c.Notification.WebhookTimeout == 0 {
		c.Notification.WebhookTimeout = 10 * time.Second
	}
	if c.Notification.SMTP.Port == 0 {
		c.Notification.SMTP.Port = 587
	}

	if c.Scheduler.Spec == "" {
		c.Scheduler.Spec = "0 8 * * *"
	}
	if c.Scheduler.Timezone == "" {
		c.Scheduler.Timezone = "America/Sao_Paulo"
	}
}

func (c *Config) validateDatabase() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	return nil
}

func (c *Config) validateRabbitMQ() error {
	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}

// ValidateAPI checks the sections the API service needs
func (c *Config) ValidateAPI() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateDatabase(); err != nil {
		return err
	}

	return c.validateRabbitMQ()
}

// ValidateWorker checks the sections the worker service needs
func (c *Config) ValidateWorker() error {
	if err := c.validateDatabase(); err != nil {
		return err
	}

	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.MaxRedeliveries <= 0 {
		return fmt.Errorf("worker max_redeliveries must be greater than 0")
	}

	if c.Automation.MaxAttempts <= 0 {
		return fmt.Errorf("automation max_attempts must be greater than 0")
	}

	if c.Automation.AttemptTimeout <= 0 {
		return fmt.Errorf("automation attempt_timeout must be greater than 0")
	}

	if c.Automation.MaxSteps <= 0 {
		return fmt.Errorf("automation max_steps must be greater than 0")
	}

	for _, d := range c.Automation.Backoff {
		if d < 0 {
			return fmt.Errorf("automation backoff entries must not be negative")
		}
	}

	for _, f := range c.Storage.Formats {
		switch f {
		case "json", "markdown", "report", "pdf":
		default:
			return fmt.Errorf("unsupported artifact format: %q", f)
		}
	}

	return nil
}

// ValidateScheduler checks the sections the scheduler service needs
func (c *Config) ValidateScheduler() error {
	if err := c.validateRabbitMQ(); err != nil {
		return err
	}

	if c.Scheduler.Instruction == "" {
		return fmt.Errorf("scheduler instruction is required")
	}

	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("invalid scheduler timezone %q: %w", c.Scheduler.Timezone, err)
	}

	return nil
}
