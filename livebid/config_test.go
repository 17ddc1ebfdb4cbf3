package livebid

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/peterldowns/testy/check"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	check.Nil(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
[log]
level = "DEBUG"
format = "json"

[server]
addr = ":9090"

[db]
host = "db.internal"
user = "livebid"
password = "secret"
database = "livebid"

[auction]
default_min_increment = 250
sniping_window_minutes = 2
extension_minutes = 3
`)

	cfg, err := LoadConfig(path)
	check.Nil(t, err)
	check.Equal(t, slog.LevelDebug, cfg.Log.Level)
	check.Equal(t, "json", cfg.Log.Format)
	check.Equal(t, ":9090", cfg.Server.Addr)
	check.Equal(t, "db.internal", cfg.DB.Host)
	check.Equal(t, int64(250), cfg.Auction.DefaultMinIncrement)
	check.Equal(t, 2*time.Minute, cfg.Auction.SnipingWindow())
	check.Equal(t, 3*time.Minute, cfg.Auction.Extension())

	// Unset keys keep their defaults.
	check.Equal(t, 5432, cfg.DB.Port)
	check.Equal(t, 64, cfg.Auction.BidQueueSize)
	check.Equal(t, 15*time.Second, cfg.Auction.SweepInterval)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.toml"))
	check.Error(t, err)
}

func TestLoadConfig_Malformed(t *testing.T) {
	path := writeConfig(t, "[auction\ndefault_min_increment = ")
	_, err := LoadConfig(path)
	check.Error(t, err)
}
