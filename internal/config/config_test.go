// Copyright 2025 James Ross
package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	os.Unsetenv("SUBMISSION_RATE_LIMIT_RPS")
	cfg, err := Load("nonexistent.yaml")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Execution.WorkerPoolSize != 10 {
		t.Fatalf("expected default worker pool size 10, got %d", cfg.Execution.WorkerPoolSize)
	}
	if cfg.Durable.TableName == "" {
		t.Fatalf("expected default durable table name")
	}
	if cfg.Blob.BucketName == "" {
		t.Fatalf("expected default blob bucket name")
	}
}

func TestValidateFails(t *testing.T) {
	cfg := defaultConfig()
	cfg.Durable.TableName = ""
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for missing durable.table_name")
	}

	cfg = defaultConfig()
	cfg.Priority.MaxJobsToConsider = 0
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for priority.max_jobs_to_consider < 1")
	}

	cfg = defaultConfig()
	cfg.Priority.BurstHalfLife = 0
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for burst_half_life <= 0")
	}

	cfg = defaultConfig()
	cfg.Quotas.QueueCapacityBytes = 0
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for queue_capacity_bytes <= 0")
	}

	cfg = defaultConfig()
	cfg.Execution.WorkerPoolSize = 0
	if err := Validate(cfg); err == nil {
		t.Fatalf("expected error for execution.worker_pool_size < 1")
	}
}
