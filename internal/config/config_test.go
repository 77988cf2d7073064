package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"orderdesk/internal"
)

func TestDefaultSlabsValidate(t *testing.T) {
	cfg := PricingConfig{Slabs: DefaultSlabs(), VIPBonus: decimal.RequireFromString("1.5"), HardCeiling: decimal.NewFromInt(12)}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestValidateRejectsBadSlabs(t *testing.T) {
	d := decimal.NewFromInt
	cases := []struct {
		name  string
		slabs []internal.VolumeDiscountSlab
	}{
		{name: "gap", slabs: []internal.VolumeDiscountSlab{
			{MinQty: 0, MaxQty: intPtr(9), MinDiscount: d(0), MaxDiscount: d(0)},
			{MinQty: 11, MinDiscount: d(3), MaxDiscount: d(6)},
		}},
		{name: "overlap", slabs: []internal.VolumeDiscountSlab{
			{MinQty: 0, MaxQty: intPtr(10), MinDiscount: d(0), MaxDiscount: d(0)},
			{MinQty: 10, MinDiscount: d(3), MaxDiscount: d(6)},
		}},
		{name: "not starting at zero", slabs: []internal.VolumeDiscountSlab{
			{MinQty: 1, MinDiscount: d(0), MaxDiscount: d(0)},
		}},
		{name: "bounded tail", slabs: []internal.VolumeDiscountSlab{
			{MinQty: 0, MaxQty: intPtr(10), MinDiscount: d(0), MaxDiscount: d(0)},
		}},
		{name: "inverted discount", slabs: []internal.VolumeDiscountSlab{
			{MinQty: 0, MinDiscount: d(5), MaxDiscount: d(3)},
		}},
		{name: "above ceiling", slabs: []internal.VolumeDiscountSlab{
			{MinQty: 0, MinDiscount: d(5), MaxDiscount: d(20)},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := PricingConfig{Slabs: tc.slabs, HardCeiling: d(12)}
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadSlabsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slabs.json")
	blob := `[{"minQty":0,"maxQty":19,"minDiscount":0,"maxDiscount":1,"tierLabel":"small"},{"minQty":20,"minDiscount":"2.5","maxDiscount":5,"tierLabel":"large"}]`
	if err := os.WriteFile(path, []byte(blob), 0o644); err != nil {
		t.Fatal(err)
	}
	slabs, err := LoadSlabsFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(slabs) != 2 || slabs[1].MaxQty != nil || !slabs[1].MinDiscount.Equal(decimal.RequireFromString("2.5")) {
		t.Fatalf("unexpected slabs %+v", slabs)
	}
}

func TestLoadReadsEnv(t *testing.T) {
	t.Setenv("NEGOTIATION_MAX_TURNS", "5")
	t.Setenv("NEGOTIATION_TTL", "10m")
	t.Setenv("PRICING_VIP_BONUS", "2")
	t.Setenv("DB_DRIVER", "pgx")
	t.Setenv("DATABASE_URL", "postgres://localhost/orders")
	cfg, err := Load()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Negotiation.MaxTurns != 5 || cfg.Negotiation.TTL.Minutes() != 10 {
		t.Fatalf("negotiation config not loaded: %+v", cfg.Negotiation)
	}
	if !cfg.Pricing.VIPBonus.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("vip bonus %s", cfg.Pricing.VIPBonus)
	}
	driver, dsn := cfg.DataSource()
	if driver != "pgx" || dsn != "postgres://localhost/orders" {
		t.Fatalf("data source %s %s", driver, dsn)
	}
}

type staticSecrets map[string]string

func (s staticSecrets) Access(_ context.Context, name string) ([]byte, error) {
	return []byte(s[name] + "\n"), nil
}

func TestResolveSecrets(t *testing.T) {
	cfg := Config{ClassifierAPIKeySecret: "classifier-key"}
	secrets := staticSecrets{"projects/acme/secrets/classifier-key/versions/latest": "s3cret"}
	if err := cfg.ResolveSecrets(context.Background(), secrets, "acme"); err != nil {
		t.Fatal(err)
	}
	if cfg.ClassifierAPIKey != "s3cret" {
		t.Fatalf("key=%q", cfg.ClassifierAPIKey)
	}

	missing := Config{ClassifierAPIKeySecret: "classifier-key"}
	if err := missing.ResolveSecrets(context.Background(), secrets, ""); err == nil {
		t.Fatal("expected missing project error")
	}
}
