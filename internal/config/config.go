package config

import (
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/EvinKlif/radio/internal/hub"
	pkgconfig "github.com/EvinKlif/radio/pkg/config"
	"github.com/EvinKlif/radio/pkg/log"
)

type Config struct {
	Server   ServerConfig
	Ingest   IngestConfig
	WebRTC   WebRTCConfig
	Hub      hub.Config
	Redis    RedisConfig
	Database DatabaseConfig
	Storage  StorageConfig
	Log      log.Config
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

type IngestConfig struct {
	ListenIP          string        `mapstructure:"listen_ip"`
	Port              int           `mapstructure:"port"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	ProvisionAttempts int           `mapstructure:"provision_attempts"`
}

type WebRTCConfig struct {
	ICEServers []ICEServerConfig `mapstructure:"ice_servers"`
}

type ICEServerConfig struct {
	URLs       []string `mapstructure:"urls"`
	Username   string   `mapstructure:"username"`
	Credential string   `mapstructure:"credential"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type DatabaseConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DSN     string `mapstructure:"dsn"`
}

type StorageConfig struct {
	Type  string             `mapstructure:"type"` // "local" or "s3"
	Local LocalStorageConfig `mapstructure:"local"`
	S3    S3StorageConfig    `mapstructure:"s3"`
}

type LocalStorageConfig struct {
	BasePath string `mapstructure:"base_path"`
}

type S3StorageConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UsePathStyle    bool   `mapstructure:"use_path_style"` // Required for MinIO
	PublicURL       string `mapstructure:"public_url"`
}

func Load() (*Config, error) {
	v, err := pkgconfig.Load("./config", "config")
	if err != nil {
		return nil, err
	}

	// Set defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)

	v.SetDefault("ingest.listen_ip", "0.0.0.0")
	v.SetDefault("ingest.port", 40000)
	v.SetDefault("ingest.idle_timeout", "5s")
	v.SetDefault("ingest.retry_delay", "1s")
	v.SetDefault("ingest.provision_attempts", 3)

	v.SetDefault("hub.max_message_size", 65536)
	v.SetDefault("hub.write_wait", "10s")
	v.SetDefault("hub.pong_wait", "60s")
	v.SetDefault("hub.ping_interval", "54s")
	v.SetDefault("hub.send_buffer", 256)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.dsn", "")

	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local.base_path", "./data")
	v.SetDefault("storage.s3.region", "us-east-1")
	v.SetDefault("storage.s3.use_path_style", true) // MinIO-compatible default

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)
	v.SetDefault("log.service", "radio")

	// Override from environment
	v.BindEnv("server.port", "PORT")
	v.BindEnv("ingest.port", "INGEST_PORT")
	v.BindEnv("ingest.listen_ip", "INGEST_LISTEN_IP")
	v.BindEnv("redis.enabled", "REDIS_ENABLED")
	v.BindEnv("redis.address", "REDIS_ADDRESS")
	v.BindEnv("redis.password", "REDIS_PASSWORD")
	v.BindEnv("database.enabled", "DATABASE_ENABLED")
	v.BindEnv("database.dsn", "DATABASE_DSN")
	v.BindEnv("storage.s3.endpoint", "S3_ENDPOINT")
	v.BindEnv("storage.s3.region", "S3_REGION")
	v.BindEnv("storage.s3.bucket", "S3_BUCKET")
	v.BindEnv("storage.s3.access_key_id", "S3_ACCESS_KEY_ID")
	v.BindEnv("storage.s3.secret_access_key", "S3_SECRET_ACCESS_KEY")
	v.BindEnv("storage.s3.public_url", "S3_PUBLIC_URL")
	v.BindEnv("log.level", "LOG_LEVEL")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GetICEServers converts the configured ICE servers to the webrtc type.
func (c *WebRTCConfig) GetICEServers() []webrtc.ICEServer {
	servers := make([]webrtc.ICEServer, 0, len(c.ICEServers))
	for _, s := range c.ICEServers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return servers
}
