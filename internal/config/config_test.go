package config_test

import (
	"DeepReplay/internal/config"
	"DeepReplay/internal/coordinator"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// ===== Test: environment =====

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := config.LoadFrom(map[string]string{})
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.ExportTable != "object_export" {
		t.Errorf("ExportTable: got %q, want object_export", cfg.ExportTable)
	}
	if cfg.GRPCAddr != ":9090" || cfg.HTTPAddr != ":8080" || cfg.MetricsAddr != ":9091" {
		t.Errorf("listeners: got %s %s %s", cfg.GRPCAddr, cfg.HTTPAddr, cfg.MetricsAddr)
	}
	if cfg.QueueSize != 256 || cfg.PageLimit != 1000 {
		t.Errorf("queue/page: got %d/%d, want 256/1000", cfg.QueueSize, cfg.PageLimit)
	}
	if cfg.BookCacheTTL() != 300*time.Second {
		t.Errorf("BookCacheTTL: got %v, want 5m", cfg.BookCacheTTL())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadFrom_PrefixedVariables(t *testing.T) {
	cfg, err := config.LoadFrom(map[string]string{
		"REPLAY_EXPORT_DSN":  "postgres://x",
		"REPLAY_NATS_URL":    "nats://localhost:4222",
		"REPLAY_QUEUE_SIZE":  "8",
		"REPLAY_LOG_LEVEL":   "debug",
		"EXPORT_DSN":         "ignored",
		"REPLAY_ENGINE_ADDR": "engine:1",
	})
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.ExportDSN != "postgres://x" {
		t.Errorf("ExportDSN: got %q", cfg.ExportDSN)
	}
	if cfg.QueueSize != 8 || cfg.LogLevel != "debug" || cfg.EngineAddr != "engine:1" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadFrom_BadInteger(t *testing.T) {
	if _, err := config.LoadFrom(map[string]string{"REPLAY_QUEUE_SIZE": "many"}); err == nil {
		t.Error("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"no export", func(c *config.Config) { c.ExportDir = ""; c.ExportDSN = "" }, "REPLAY_EXPORT_DIR"},
		{"dsn without table", func(c *config.Config) { c.ExportDSN = "postgres://x"; c.ExportTable = "" }, "REPLAY_EXPORT_TABLE"},
		{"no engine", func(c *config.Config) { c.EngineAddr = "" }, "REPLAY_ENGINE_ADDR"},
		{"queue", func(c *config.Config) { c.QueueSize = 0 }, "queue size"},
		{"page", func(c *config.Config) { c.PageLimit = 0 }, "page limit"},
		{"ttl", func(c *config.Config) { c.RedisURL = "redis://x"; c.BookCacheTTLSec = 0 }, "TTL"},
		{"listener", func(c *config.Config) { c.HTTPAddr = "8080" }, "http"},
		{"log level", func(c *config.Config) { c.LogLevel = "loud" }, "log level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.LoadFrom(map[string]string{})
			if err != nil {
				t.Fatalf("LoadFrom: %v", err)
			}
			tt.mutate(cfg)
			err = cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate: got %v, want error containing %q", err, tt.want)
			}
		})
	}
}

// ===== Test: catalog =====

func TestDefaultCatalog(t *testing.T) {
	c := config.DefaultCatalog()
	if got := len(c.Venues); got != 3 {
		t.Fatalf("venues: got %d, want 3", got)
	}
	sui, ok := c.Venue("sui_usdc")
	if !ok {
		t.Fatal("sui_usdc missing")
	}
	if sui.BaseDecimals != 9 || sui.QuoteDecimals != 6 || sui.BaseSymbol != "SUI" {
		t.Errorf("sui_usdc = %+v", sui)
	}
	if got := sui.Wrapper.String(); got != "0xe05dafb5133bcffb8d59f4e12465dc0e9faeaa05e3e342a08fe135800e3e4407" {
		t.Errorf("wrapper: got %s", got)
	}
	deep, _ := c.Venue("deep_usdc")
	if deep.BaseDecimals != 6 {
		t.Errorf("deep base decimals: got %d, want 6", deep.BaseDecimals)
	}

	cc := c.CoordinatorConfig(16)
	if cc.QueueSize != 16 || cc.DeepSymbol != "DEEP" || len(cc.Reserves) != 4 {
		t.Errorf("coordinator config = %+v", cc)
	}
	if cc.ReferencePackages[0].String() != "0x0000000000000000000000000000000000000000000000000000000000000001" {
		t.Errorf("short address not padded: %s", cc.ReferencePackages[0])
	}
	if dv := c.DefaultVenueConfig(); dv.VenueID() != "dbg_usdc" {
		t.Errorf("default venue id: got %s, want dbg_usdc", dv.VenueID())
	}
}

func TestLoadCatalog_EmptyPathIsDefault(t *testing.T) {
	c, err := config.LoadCatalog("")
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if len(c.Venues) != 3 {
		t.Errorf("venues: got %d, want 3", len(c.Venues))
	}
}

const minimalCatalog = `
deepbook_package: "0x2c8d603bc51326b8c13cef9dd07031a408a48dddb541963357661df5d3204809"
sender: "0x5e0"
venues:
  - id: sui_usdc
    wrapper: "0x10"
    inner: "0x11"
    asks: "0x12"
    bids: "0x13"
    base_type: "0x2::sui::SUI"
    quote_type: "0xdb::usdc::USDC"
    base_symbol: SUI
    quote_symbol: USDC
    base_decimals: 9
    quote_decimals: 6
reserves:
  - {symbol: SUI, coin_type: "0x2::sui::SUI", decimals: 9, amount: 100}
  - {symbol: USDC, coin_type: "0xdb::usdc::USDC", decimals: 6, amount: 100}
  - {symbol: DEEP, coin_type: "0xde::deep::DEEP", decimals: 6, amount: 100}
`

func TestLoadCatalog_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	if err := os.WriteFile(path, []byte(minimalCatalog), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := config.LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	if c.DeepSymbol != "DEEP" {
		t.Errorf("DeepSymbol: got %q, want DEEP default", c.DeepSymbol)
	}
	if c.DefaultVenue != nil {
		t.Error("unexpected default venue")
	}
	if got := c.DefaultVenueConfig(); got != coordinator.DefaultVenueDefaults() {
		t.Errorf("default venue: got %+v", got)
	}
}

func TestParseCatalog_Rejects(t *testing.T) {
	tests := []struct {
		name string
		edit func(string) string
		want string
	}{
		{"unknown field", func(s string) string { return s + "colour: blue\n" }, "colour"},
		{"missing reserve", func(s string) string {
			return strings.Replace(s, `  - {symbol: USDC, coin_type: "0xdb::usdc::USDC", decimals: 6, amount: 100}`+"\n", "", 1)
		}, "no reserve"},
		{"missing fee reserve", func(s string) string {
			return strings.Replace(s, `  - {symbol: DEEP, coin_type: "0xde::deep::DEEP", decimals: 6, amount: 100}`+"\n", "", 1)
		}, "fee asset"},
		{"missing bids", func(s string) string { return strings.Replace(s, `    bids: "0x13"`+"\n", "", 1) }, "bids"},
		{"bad address", func(s string) string { return strings.Replace(s, `"0x10"`, `"0xzz"`, 1) }, "invalid address"},
		{"bad default venue", func(s string) string { return s + "default_venue: {symbol: x}\n" }, "default_venue"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.ParseCatalog(strings.NewReader(tt.edit(minimalCatalog)))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("got %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestParseCatalog_DuplicateVenue(t *testing.T) {
	dup := strings.Replace(minimalCatalog, "reserves:", `  - id: sui_usdc
    wrapper: "0x20"
    inner: "0x21"
    asks: "0x22"
    bids: "0x23"
    base_type: "0x2::sui::SUI"
    quote_type: "0xdb::usdc::USDC"
    base_symbol: SUI
    quote_symbol: USDC
reserves:`, 1)
	_, err := config.ParseCatalog(strings.NewReader(dup))
	if err == nil || !strings.Contains(err.Error(), "duplicate venue") {
		t.Errorf("got %v, want duplicate venue", err)
	}
}
