package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Upload.MaxSizeBytes != 5*1024*1024 {
		t.Errorf("max size = %d, want 5 MiB", cfg.Upload.MaxSizeBytes)
	}
	if cfg.Upload.MinDimension != 10 || cfg.Upload.MaxDimension != 10000 {
		t.Errorf("dimensions = %d..%d", cfg.Upload.MinDimension, cfg.Upload.MaxDimension)
	}
	if cfg.Quota.Window != 24*time.Hour {
		t.Errorf("quota window = %v", cfg.Quota.Window)
	}
	if cfg.Scanner.Timeout != time.Minute || cfg.Scanner.Address() != "localhost:3310" {
		t.Errorf("scanner = %+v", cfg.Scanner)
	}
	if cfg.Worker.FanOutBatchSize != 50 {
		t.Errorf("fan-out batch = %d", cfg.Worker.FanOutBatchSize)
	}
	if !cfg.Mail.MockMode() {
		t.Error("mail should be in mock mode without SMTP credentials")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("UPLOAD_MAX_IMAGE_DIMENSION", "4000")
	t.Setenv("KAFKA_BROKERS", "a:9092,b:9092")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.App.IsProduction() {
		t.Error("expected production")
	}
	if cfg.Upload.MaxDimension != 4000 {
		t.Errorf("max dimension = %d", cfg.Upload.MaxDimension)
	}
	if len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("brokers = %v", cfg.Kafka.Brokers)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr bool
	}{
		{name: "defaults", wantErr: false},
		{name: "production without secret", env: map[string]string{"APP_ENV": "production"}, wantErr: true},
		{name: "min above max", env: map[string]string{"UPLOAD_MIN_IMAGE_DIMENSION": "500", "UPLOAD_MAX_IMAGE_DIMENSION": "100"}, wantErr: true},
		{name: "unknown queue", env: map[string]string{"QUEUE_PROVIDER": "sqs"}, wantErr: true},
		{name: "zero concurrency", env: map[string]string{"WORKER_CONCURRENCY": "0"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseResourceAttributes(t *testing.T) {
	got := ParseResourceAttributes(" service.namespace=eventsphere , broken, team = platform ,")
	if len(got) != 2 || got["service.namespace"] != "eventsphere" || got["team"] != "platform" {
		t.Fatalf("unexpected attrs: %v", got)
	}
	if len(ParseResourceAttributes("")) != 0 {
		t.Fatal("empty input should give empty map")
	}
}
