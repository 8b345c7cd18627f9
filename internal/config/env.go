package config

import (
	"fmt"
	"os"
)

// ProcessConfig holds the operational knobs that are intentionally kept
// out of the Bundle file and read from the environment instead:
// the mounted config describes policy, env vars describe the process.
type ProcessConfig struct {
	BundlePath     string
	ListenAddr     string
	APIAddr        string
	OpsAddr        string
	MetricsAddr    string
	WebhookBaseURL string
}

// LoadProcessConfig reads the process-level knobs from environment
// variables, applying the same defaults-then-validate shape as
// internal/agent.LoadConfig.
func LoadProcessConfig() (*ProcessConfig, error) {
	pc := &ProcessConfig{
		BundlePath:     os.Getenv("SYNCD_BUNDLE_PATH"),
		ListenAddr:     os.Getenv("SYNCD_LISTEN_ADDR"),
		APIAddr:        os.Getenv("SYNCD_API_ADDR"),
		OpsAddr:        os.Getenv("SYNCD_OPS_ADDR"),
		MetricsAddr:    os.Getenv("SYNCD_METRICS_ADDR"),
		WebhookBaseURL: os.Getenv("SYNCD_WEBHOOK_BASE_URL"),
	}
	if pc.ListenAddr == "" {
		pc.ListenAddr = ":8080"
	}
	if pc.APIAddr == "" {
		pc.APIAddr = ":8084"
	}
	if pc.OpsAddr == "" {
		pc.OpsAddr = ":8081"
	}
	if pc.MetricsAddr == "" {
		pc.MetricsAddr = ":9090"
	}
	if pc.BundlePath == "" {
		return nil, fmt.Errorf("SYNCD_BUNDLE_PATH env var is required")
	}
	return pc, nil
}
