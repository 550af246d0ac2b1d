package config

import "testing"

func TestLoadAppliesDefaults(t *testing.T) {
	configViper := NewViper()
	configViper.Set("auth.signing_secret", "secret")

	cfg, err := Load(configViper)
	if err != nil {
		t.Fatalf("unexpected load error: %v", err)
	}
	if cfg.HTTPAddress != "0.0.0.0:8080" {
		t.Fatalf("unexpected http address %q", cfg.HTTPAddress)
	}
	if cfg.DatabasePath != "annoserv.db" {
		t.Fatalf("unexpected database path %q", cfg.DatabasePath)
	}
	if cfg.BaseURL != "http://localhost:8080" {
		t.Fatalf("unexpected base url %q", cfg.BaseURL)
	}
	if cfg.TokenTTLMinutes != 30 || cfg.PageSize != 100 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
}

func TestLoadValidation(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(map[string]any)
	}{
		{"missing signing secret", func(values map[string]any) { delete(values, "auth.signing_secret") }},
		{"empty database path", func(values map[string]any) { values["database.path"] = " " }},
		{"relative base url", func(values map[string]any) { values["server.base_url"] = "annotations/" }},
		{"non-positive ttl", func(values map[string]any) { values["auth.token_ttl_minutes"] = 0 }},
		{"non-positive page size", func(values map[string]any) { values["server.page_size"] = -1 }},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			values := map[string]any{"auth.signing_secret": "secret"}
			testCase.mutate(values)

			configViper := NewViper()
			for key, value := range values {
				configViper.Set(key, value)
			}
			if _, err := Load(configViper); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}
