package livebid

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

func LoadConfig(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer file.Close()

	cfg := DefaultConfig()
	if err = toml.NewDecoder(file).Decode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfig returns a config with working defaults for everything
// except the database credentials.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  slog.LevelInfo,
			Format: "text",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		DB: DBConfig{
			Host:     "localhost",
			Port:     5432,
			PoolSize: 10,
		},
		Auction: AuctionConfig{
			DefaultMinIncrement:  100,
			SnipingWindowMinutes: 5,
			ExtensionMinutes:     5,
			BidQueueSize:         64,
			BidQueueTimeout:      3 * time.Second,
			SweepInterval:        15 * time.Second,
		},
	}
}

type Config struct {
	Log     LogConfig     `toml:"log"`
	Server  ServerConfig  `toml:"server"`
	DB      DBConfig      `toml:"db"`
	Auction AuctionConfig `toml:"auction"`
}

type LogConfig struct {
	Level     slog.Level `toml:"level"`
	Format    string     `toml:"format"`
	AddSource bool       `toml:"add_source"`
}

type ServerConfig struct {
	Addr         string `toml:"addr"`
	AllowOrigins string `toml:"allow_origins"`
}

type DBConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	PoolSize int    `toml:"pool_size"`
}

// AuctionConfig carries the global bidding defaults. DefaultMinIncrement
// is applied at auction creation when the seller leaves the increment
// unset; it is never consulted at bid time.
type AuctionConfig struct {
	DefaultMinIncrement  int64         `toml:"default_min_increment"`
	SnipingWindowMinutes int           `toml:"sniping_window_minutes"`
	ExtensionMinutes     int           `toml:"extension_minutes"`
	BidQueueSize         int           `toml:"bid_queue_size"`
	BidQueueTimeout      time.Duration `toml:"bid_queue_timeout"`
	SweepInterval        time.Duration `toml:"sweep_interval"`
}

func (c AuctionConfig) SnipingWindow() time.Duration {
	return time.Duration(c.SnipingWindowMinutes) * time.Minute
}

func (c AuctionConfig) Extension() time.Duration {
	return time.Duration(c.ExtensionMinutes) * time.Minute
}
