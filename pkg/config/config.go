package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v2"
)

type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

type Config struct {
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
		// ConsoleMessages logs every signalling message at info level.
		ConsoleMessages bool `yaml:"console_messages"`
	} `yaml:"logging"`

	Signalling struct {
		StreamerAddress string `yaml:"streamer_address"`
		// PlayerAddress may be empty when web.serve_players mounts the player
		// socket on the web server instead.
		PlayerAddress   string                 `yaml:"player_address"`
		SFUAddress      string                 `yaml:"sfu_address"`
		MaxSubscribers  int                    `yaml:"max_subscribers"`
		PeerOptions     map[string]interface{} `yaml:"peer_options"`
		PingInterval    time.Duration          `yaml:"ping_interval"`
		PongTimeout     time.Duration          `yaml:"pong_timeout"`
		WriteTimeout    time.Duration          `yaml:"write_timeout"`
		SendBufferSize  int                    `yaml:"send_buffer_size"`
		MaxMessageBytes int64                  `yaml:"max_message_bytes"`
		ShutdownTimeout time.Duration          `yaml:"shutdown_timeout"`
	} `yaml:"signalling"`

	Web struct {
		Address      string        `yaml:"address"`
		ServePlayers bool          `yaml:"serve_players"`
		RestAPI      bool          `yaml:"rest_api"`
		JWTSecret    string        `yaml:"jwt_secret"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"web"`

	SFU struct {
		ID                  string        `yaml:"id"`
		SubscribeStreamerID string        `yaml:"subscribe_streamer_id"`
		SignallingURL       string        `yaml:"signalling_url"`
		ReconnectDelay      time.Duration `yaml:"reconnect_delay"`
		RetrySubscribeDelay time.Duration `yaml:"retry_subscribe_delay"`
		EnableSVC           bool          `yaml:"enable_svc"`
		ScalabilityMode     string        `yaml:"scalability_mode"`
		ICEServers          []ICEServer   `yaml:"ice_servers"`
		PortRange           struct {
			Min uint16 `yaml:"min"`
			Max uint16 `yaml:"max"`
		} `yaml:"port_range"`
		MetricsAddress string `yaml:"metrics_address"`
	} `yaml:"sfu"`

	Monitoring struct {
		PrometheusEnabled bool   `yaml:"prometheus_enabled"`
		MetricsPath       string `yaml:"metrics_path"`
	} `yaml:"monitoring"`

	Redis struct {
		Enabled  bool   `yaml:"enabled"`
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		PoolSize int    `yaml:"pool_size"`
		Channel  string `yaml:"channel"`
	} `yaml:"redis"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	RateLimiting struct {
		Enabled bool `yaml:"enabled"`

		HTTP struct {
			RequestsPerSecond float64 `yaml:"requests_per_second"`
			Burst             int     `yaml:"burst"`
			MaxConcurrent     int     `yaml:"max_concurrent"`
		} `yaml:"http"`

		WebSocket struct {
			MessagesPerSecond float64 `yaml:"messages_per_second"`
			Burst             int     `yaml:"burst"`
		} `yaml:"websocket"`
	} `yaml:"rate_limiting"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	// Signalling
	if c.Signalling.StreamerAddress == "" {
		return fmt.Errorf("signalling.streamer_address must not be empty")
	}
	if c.Signalling.PlayerAddress == "" && !c.Web.ServePlayers {
		return fmt.Errorf("signalling.player_address must be set unless web.serve_players=true")
	}
	if c.Signalling.MaxSubscribers < 0 {
		return fmt.Errorf("signalling.max_subscribers must be >= 0")
	}
	if c.Signalling.PingInterval <= 0 {
		return fmt.Errorf("signalling.ping_interval must be > 0")
	}
	if c.Signalling.PongTimeout <= c.Signalling.PingInterval {
		return fmt.Errorf("signalling.pong_timeout must be > ping_interval")
	}
	if c.Signalling.WriteTimeout <= 0 {
		return fmt.Errorf("signalling.write_timeout must be > 0")
	}
	if c.Signalling.SendBufferSize <= 0 {
		return fmt.Errorf("signalling.send_buffer_size must be > 0")
	}
	if c.Signalling.MaxMessageBytes < 0 {
		return fmt.Errorf("signalling.max_message_bytes must be >= 0")
	}
	if c.Signalling.ShutdownTimeout <= 0 {
		return fmt.Errorf("signalling.shutdown_timeout must be > 0")
	}
	if _, err := c.PeerOptionsJSON(); err != nil {
		return fmt.Errorf("signalling.peer_options: %w", err)
	}

	// Web
	if (c.Web.ServePlayers || c.Web.RestAPI) && c.Web.Address == "" {
		return fmt.Errorf("web.address must not be empty when serve_players or rest_api is enabled")
	}

	// SFU
	if c.SFU.ReconnectDelay <= 0 {
		return fmt.Errorf("sfu.reconnect_delay must be > 0")
	}
	if c.SFU.RetrySubscribeDelay <= 0 {
		return fmt.Errorf("sfu.retry_subscribe_delay must be > 0")
	}
	if c.SFU.PortRange.Min > 0 || c.SFU.PortRange.Max > 0 {
		if c.SFU.PortRange.Min == 0 || c.SFU.PortRange.Max == 0 {
			return fmt.Errorf("sfu.port_range.min and max must both be set when one is set")
		}
		if c.SFU.PortRange.Min >= c.SFU.PortRange.Max {
			return fmt.Errorf("sfu.port_range.min must be < max")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when redis.enabled=true")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when redis.enabled=true")
		}
	}

	// Tracing
	if c.Tracing.Enabled {
		if c.Tracing.JaegerURL == "" {
			return fmt.Errorf("tracing.jaeger_url must not be empty when tracing.enabled=true")
		}
		if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
			return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
		}
	}

	// Rate limiting
	if c.RateLimiting.Enabled {
		if c.RateLimiting.HTTP.RequestsPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.http.requests_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.Burst <= 0 {
			return fmt.Errorf("rate_limiting.http.burst must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.HTTP.MaxConcurrent < 0 {
			return fmt.Errorf("rate_limiting.http.max_concurrent must be >= 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.MessagesPerSecond <= 0 {
			return fmt.Errorf("rate_limiting.websocket.messages_per_second must be > 0 when rate limiting is enabled")
		}
		if c.RateLimiting.WebSocket.Burst <= 0 {
			return fmt.Errorf("rate_limiting.websocket.burst must be > 0 when rate limiting is enabled")
		}
	}

	return nil
}

// PeerOptionsJSON renders signalling.peer_options for the config message.
// Nested yaml.v2 maps have interface{} keys and are converted to string keys.
func (c *Config) PeerOptionsJSON() (json.RawMessage, error) {
	if len(c.Signalling.PeerOptions) == 0 {
		return json.RawMessage(`{}`), nil
	}
	data, err := json.Marshal(normalize(c.Signalling.PeerOptions))
	if err != nil {
		return nil, err
	}
	return data, nil
}

func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = normalize(val)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = normalize(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = normalize(val)
		}
		return out
	default:
		return v
	}
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"

	cfg.Signalling.StreamerAddress = ":8888"
	cfg.Signalling.PlayerAddress = ":8880"
	cfg.Signalling.SFUAddress = ":8889"
	cfg.Signalling.MaxSubscribers = 0
	cfg.Signalling.PingInterval = 30 * time.Second
	cfg.Signalling.PongTimeout = 60 * time.Second
	cfg.Signalling.WriteTimeout = 10 * time.Second
	cfg.Signalling.SendBufferSize = 256
	cfg.Signalling.MaxMessageBytes = 1 << 20
	cfg.Signalling.ShutdownTimeout = 10 * time.Second

	cfg.Web.Address = ":80"
	cfg.Web.ServePlayers = false
	cfg.Web.RestAPI = true
	cfg.Web.ReadTimeout = 30 * time.Second
	cfg.Web.WriteTimeout = 30 * time.Second

	cfg.SFU.ID = "SFU"
	cfg.SFU.SignallingURL = "ws://localhost:8889"
	cfg.SFU.ReconnectDelay = 2 * time.Second
	cfg.SFU.RetrySubscribeDelay = 10 * time.Second
	cfg.SFU.ScalabilityMode = "L1T1"
	cfg.SFU.ICEServers = []ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	cfg.SFU.MetricsAddress = ":9091"

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.MetricsPath = "/metrics"

	cfg.Redis.Enabled = false
	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.PoolSize = 10
	cfg.Redis.Channel = "pixelrelay:events"

	cfg.Tracing.Enabled = false
	cfg.Tracing.ServiceName = "pixelrelay"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	// Rate limiting defaults (disabled by default)
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 50
	cfg.RateLimiting.HTTP.Burst = 100
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 100
	cfg.RateLimiting.WebSocket.Burst = 200

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if level := os.Getenv("PIXELRELAY_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if addr := os.Getenv("PIXELRELAY_STREAMER_ADDRESS"); addr != "" {
		c.Signalling.StreamerAddress = addr
	}
	if addr := os.Getenv("PIXELRELAY_PLAYER_ADDRESS"); addr != "" {
		c.Signalling.PlayerAddress = addr
	}
	if addr := os.Getenv("PIXELRELAY_SFU_ADDRESS"); addr != "" {
		c.Signalling.SFUAddress = addr
	}
	if n := os.Getenv("PIXELRELAY_MAX_SUBSCRIBERS"); n != "" {
		if v, err := strconv.Atoi(n); err == nil {
			c.Signalling.MaxSubscribers = v
		}
	}
	if url := os.Getenv("PIXELRELAY_SIGNALLING_URL"); url != "" {
		c.SFU.SignallingURL = url
	}
	if id := os.Getenv("PIXELRELAY_SFU_ID"); id != "" {
		c.SFU.ID = id
	}
	if secret := os.Getenv("PIXELRELAY_JWT_SECRET"); secret != "" {
		c.Web.JWTSecret = secret
	}
}
