package global

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"threadline/tools/errs"
)

// AppConfig is the full server configuration. Loaded once in main and
// passed down; nothing in the tree reads it implicitly.
type AppConfig struct {
	NodeID   string `yaml:"node_id"`
	NodeNum  int64  `yaml:"node_num"` // snowflake node, 0~1023
	HTTPAddr string `yaml:"http_addr"`

	PostgresURL string `yaml:"postgres_url"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Bus struct {
		Kind    string   `yaml:"kind"` // nats | kafka | mem
		NatsURL string   `yaml:"nats_url"`
		Brokers []string `yaml:"kafka_brokers"`
		GroupID string   `yaml:"kafka_group_id"`
	} `yaml:"bus"`

	JWTSecret string `yaml:"jwt_secret"`

	Presence struct {
		TTL       time.Duration `yaml:"ttl"`
		Heartbeat time.Duration `yaml:"heartbeat"`
	} `yaml:"presence"`

	Blob struct {
		Buckets   []string      `yaml:"buckets"` // candidate buckets, tried in order
		SignTTL   time.Duration `yaml:"sign_ttl"`
		SignerURL string        `yaml:"signer_url"`
	} `yaml:"blob"`
}

func defaults() *AppConfig {
	c := &AppConfig{
		NodeID:   "dm-node-1",
		NodeNum:  1,
		HTTPAddr: ":8080",
	}
	// In-process bus by default so a config-less run needs no broker,
	// matching the memory store and presence fallbacks.
	c.Bus.Kind = "mem"
	c.Bus.NatsURL = "nats://127.0.0.1:4222"
	c.Bus.GroupID = "threadline-fanout"
	c.Presence.TTL = 90 * time.Second
	c.Presence.Heartbeat = 30 * time.Second
	c.Blob.SignTTL = 15 * time.Minute
	return c
}

// Load reads the YAML config at path, then lets a few environment
// variables override the secrets so they stay out of the file.
func Load(path string) (*AppConfig, error) {
	c := defaults()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, errs.WrapMsg(err, "read config", "path", path)
		}
		if err := yaml.Unmarshal(raw, c); err != nil {
			return nil, errs.WrapMsg(err, "parse config", "path", path)
		}
	}
	if v := os.Getenv("THREADLINE_POSTGRES_URL"); v != "" {
		c.PostgresURL = v
	}
	if v := os.Getenv("THREADLINE_JWT_SECRET"); v != "" {
		c.JWTSecret = v
	}
	if v := os.Getenv("THREADLINE_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	return c, nil
}
