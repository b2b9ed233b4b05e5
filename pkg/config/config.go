package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config captures the full runtime configuration for the EventSphere upload
// gate and notification worker.
type Config struct {
	App       AppConfig
	HTTP      HTTPConfig
	Queue     QueueConfig
	Kafka     KafkaConfig
	NATS      NATSConfig
	Redis     RedisConfig
	Mongo     MongoConfig
	Storage   StorageConfig
	Tracing   TracingConfig
	Metrics   MetricsConfig
	Upload    UploadConfig
	Quota     QuotaConfig
	Scanner   ScannerConfig
	Auth      AuthConfig
	Mail      MailConfig
	Worker    WorkerConfig
	CORS      CORSConfig
	RateLimit RateLimitConfig
}

type AppConfig struct {
	Name        string `env:"APP_NAME" envDefault:"eventsphere"`
	Environment string `env:"APP_ENV" envDefault:"development"`
	Version     string `env:"APP_VERSION" envDefault:"0.1.0"`
	LogLevel    string `env:"APP_LOG_LEVEL" envDefault:"info"`
	LogFormat   string `env:"APP_LOG_FORMAT" envDefault:"json"`
}

// IsProduction reports whether fail-closed behaviour applies.
func (a AppConfig) IsProduction() bool {
	return strings.EqualFold(a.Environment, "production")
}

type HTTPConfig struct {
	Addr         string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"90s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`
}

// QueueConfig selects the job transport shared by api and worker.
type QueueConfig struct {
	Provider string `env:"QUEUE_PROVIDER" envDefault:"kafka"`
}

type KafkaConfig struct {
	Brokers          []string      `env:"KAFKA_BROKERS" envSeparator:"," envDefault:"localhost:9092"`
	JobsTopic        string        `env:"KAFKA_JOBS_TOPIC" envDefault:"eventsphere.jobs"`
	GroupID          string        `env:"KAFKA_GROUP_ID" envDefault:"eventsphere-worker"`
	Retries          int           `env:"KAFKA_RETRIES" envDefault:"3"`
	RetryBackoff     time.Duration `env:"KAFKA_RETRY_BACKOFF" envDefault:"500ms"`
	CompressionCodec string        `env:"KAFKA_COMPRESSION_CODEC" envDefault:"snappy"`
	BatchSize        int           `env:"KAFKA_BATCH_SIZE" envDefault:"100"`
	BatchTimeout     time.Duration `env:"KAFKA_BATCH_TIMEOUT" envDefault:"50ms"`
}

type NATSConfig struct {
	URL           string        `env:"NATS_URL" envDefault:"nats://localhost:4222"`
	Stream        string        `env:"NATS_STREAM" envDefault:"EVENTSPHERE_JOBS"`
	SubjectPrefix string        `env:"NATS_SUBJECT_PREFIX" envDefault:"eventsphere.jobs"`
	Durable       string        `env:"NATS_DURABLE" envDefault:"eventsphere-worker"`
	AckWait       time.Duration `env:"NATS_ACK_WAIT" envDefault:"2m"`
}

type RedisConfig struct {
	Addr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	Password string `env:"REDIS_PASSWORD"`
	DB       int    `env:"REDIS_DB" envDefault:"0"`
}

type MongoConfig struct {
	URI      string        `env:"MONGO_URI" envDefault:"mongodb://localhost:27017"`
	Database string        `env:"MONGO_DATABASE" envDefault:"eventsphere"`
	Timeout  time.Duration `env:"MONGO_TIMEOUT" envDefault:"10s"`
}

type StorageConfig struct {
	Provider      string `env:"STORAGE_PROVIDER" envDefault:"minio"`
	Endpoint      string `env:"STORAGE_ENDPOINT" envDefault:"localhost:9000"`
	Region        string `env:"STORAGE_REGION" envDefault:"us-east-1"`
	Bucket        string `env:"STORAGE_BUCKET" envDefault:"eventsphere-uploads"`
	AccessKey     string `env:"STORAGE_ACCESS_KEY" envDefault:"minioadmin"`
	SecretKey     string `env:"STORAGE_SECRET_KEY" envDefault:"minioadmin"`
	UseSSL        bool   `env:"STORAGE_USE_SSL" envDefault:"false"`
	PublicBaseURL string `env:"STORAGE_PUBLIC_BASE_URL"`
}

type TracingConfig struct {
	Endpoint     string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	Insecure     bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	SampleRatio  float64 `env:"OTEL_TRACES_SAMPLER_RATIO" envDefault:"1.0"`
	ResourceAttr string  `env:"OTEL_RESOURCE_ATTRIBUTES" envDefault:"service.namespace=eventsphere"`
}

type MetricsConfig struct {
	Addr string `env:"METRICS_ADDR" envDefault:":9102"`
}

type UploadConfig struct {
	MaxSizeBytes         int64         `env:"UPLOAD_MAX_SIZE_BYTES" envDefault:"5242880"`
	MultipartMemBytes    int64         `env:"UPLOAD_MULTIPART_MEM_BYTES" envDefault:"10485760"`
	MinDimension         int           `env:"UPLOAD_MIN_IMAGE_DIMENSION" envDefault:"10"`
	MaxDimension         int           `env:"UPLOAD_MAX_IMAGE_DIMENSION" envDefault:"10000"`
	DecodeTimeout        time.Duration `env:"UPLOAD_DECODE_TIMEOUT" envDefault:"10s"`
	MaxConcurrentDecodes int           `env:"UPLOAD_MAX_CONCURRENT_DECODES"`
	MaxFilenameLength    int           `env:"UPLOAD_MAX_FILENAME_LENGTH" envDefault:"100"`
}

type QuotaConfig struct {
	AttendeeLimit  int64         `env:"QUOTA_ATTENDEE_LIMIT" envDefault:"10"`
	OrganizerLimit int64         `env:"QUOTA_ORGANIZER_LIMIT" envDefault:"50"`
	AdminLimit     int64         `env:"QUOTA_ADMIN_LIMIT" envDefault:"999999"`
	Window         time.Duration `env:"QUOTA_WINDOW" envDefault:"24h"`
	KeyPrefix      string        `env:"QUOTA_KEY_PREFIX" envDefault:"upload_limit:"`
}

type ScannerConfig struct {
	Enabled bool          `env:"CLAMAV_ENABLED" envDefault:"false"`
	Host    string        `env:"CLAMAV_HOST" envDefault:"localhost"`
	Port    int           `env:"CLAMAV_PORT" envDefault:"3310"`
	Timeout time.Duration `env:"CLAMAV_TIMEOUT" envDefault:"60s"`
}

// Address returns the clamd host:port pair.
func (s ScannerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type AuthConfig struct {
	JWTSecret string `env:"JWT_SECRET"`
	Issuer    string `env:"JWT_ISSUER"`
}

type MailConfig struct {
	Host      string `env:"SMTP_HOST"`
	Port      int    `env:"SMTP_PORT" envDefault:"587"`
	Username  string `env:"SMTP_USER"`
	Password  string `env:"SMTP_PASS"`
	From      string `env:"EMAIL_FROM" envDefault:"EventSphere <noreply@eventsphere.local>"`
	AppName   string `env:"MAIL_APP_NAME" envDefault:"EventSphere"`
	ClientURL string `env:"CLIENT_URL" envDefault:"http://localhost:3000"`
}

// MockMode reports whether emails should be logged instead of sent.
func (m MailConfig) MockMode() bool {
	return m.Host == "" || m.Username == "" || m.Password == ""
}

type WorkerConfig struct {
	Concurrency       int           `env:"WORKER_CONCURRENCY" envDefault:"5"`
	FanOutBatchSize   int           `env:"WORKER_FANOUT_BATCH_SIZE" envDefault:"50"`
	RecurringSchedule string        `env:"WORKER_RECURRING_SCHEDULE" envDefault:"0 0 * * *"`
	MaxAttempts       int           `env:"WORKER_MAX_ATTEMPTS" envDefault:"3"`
	InitialBackoff    time.Duration `env:"WORKER_INITIAL_BACKOFF" envDefault:"1s"`
	KeepFailed        int           `env:"WORKER_KEEP_FAILED" envDefault:"100"`
	OpsAddr           string        `env:"WORKER_OPS_ADDR" envDefault:":8081"`
}

type CORSConfig struct {
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
}

type RateLimitConfig struct {
	Requests int           `env:"RATE_LIMIT_REQUESTS" envDefault:"500"`
	Window   time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"15m"`
}

// Load parses environment variables into Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects combinations the services cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Upload.MaxSizeBytes <= 0 {
		errs = append(errs, errors.New("UPLOAD_MAX_SIZE_BYTES must be positive"))
	}
	if c.Upload.MinDimension <= 0 || c.Upload.MinDimension > c.Upload.MaxDimension {
		errs = append(errs, fmt.Errorf("image dimensions out of order: min %d, max %d", c.Upload.MinDimension, c.Upload.MaxDimension))
	}
	if c.Quota.Window <= 0 {
		errs = append(errs, errors.New("QUOTA_WINDOW must be positive"))
	}
	if c.Worker.Concurrency <= 0 {
		errs = append(errs, errors.New("WORKER_CONCURRENCY must be positive"))
	}
	if c.Worker.FanOutBatchSize <= 0 {
		errs = append(errs, errors.New("WORKER_FANOUT_BATCH_SIZE must be positive"))
	}
	switch c.Queue.Provider {
	case "kafka", "nats", "memory":
	default:
		errs = append(errs, fmt.Errorf("unsupported queue provider: %s", c.Queue.Provider))
	}
	if c.App.IsProduction() && c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required in production"))
	}
	return errors.Join(errs...)
}

// ParseResourceAttributes splits "k=v,k2=v2" into a map, skipping malformed pairs.
func ParseResourceAttributes(raw string) map[string]string {
	attrs := map[string]string{}
	if raw == "" {
		return attrs
	}
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		attrs[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return attrs
}
