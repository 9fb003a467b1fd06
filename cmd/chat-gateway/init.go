// ABOUTME: Interactive config generator for chat-gateway
// ABOUTME: Writes a YAML config with secrets referenced through environment variables

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// initAnswers are the values collected by runInit
type initAnswers struct {
	HTTPAddr      string
	DBPath        string
	AssistantURL  string
	EscalationURL string
	HandoffURL    string
	Bucket        string
	Region        string
	Endpoint      string
	Timezone      string
	LogLevel      string
	LogFormat     string
	Metrics       bool
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("chat-gateway configuration setup")
	fmt.Println("================================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDbPath := filepath.Join(getDataPath(), "chat-gateway.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		if !yes(prompt(reader, "File exists. Overwrite?", "no")) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	var a initAnswers

	fmt.Println("\n--- Server Configuration ---")
	a.HTTPAddr = prompt(reader, "HTTP address", "localhost:8080")

	fmt.Println("\n--- Database Configuration ---")
	a.DBPath = prompt(reader, "SQLite database path", defaultDbPath)

	fmt.Println("\n--- Assistant Endpoints ---")
	a.AssistantURL = prompt(reader, "Assistant URL", "http://localhost:9000/api/chat")
	a.EscalationURL = prompt(reader, "Escalation summary URL", "http://localhost:9000/api/summary")
	a.HandoffURL = prompt(reader, "Human handoff URL", "http://localhost:9100/api/handoff")

	fmt.Println("\n--- Attachment Storage ---")
	a.Bucket = prompt(reader, "S3 bucket (leave empty to disable uploads)", "")
	if a.Bucket != "" {
		a.Region = prompt(reader, "Region", "us-east-1")
		a.Endpoint = prompt(reader, "Endpoint override (MinIO etc, optional)", "")
	}

	fmt.Println("\n--- Human Support Hours ---")
	a.Timezone = prompt(reader, "Timezone", "America/New_York")

	fmt.Println("\n--- Logging Configuration ---")
	a.LogLevel = prompt(reader, "Log level (debug/info/warn/error)", "info")
	a.LogFormat = prompt(reader, "Log format (text/json)", "text")
	a.Metrics = yes(prompt(reader, "Expose Prometheus metrics?", "yes"))

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.Create(outputFile)
	if err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	if err := writeConfig(f, a); err != nil {
		f.Close()
		return fmt.Errorf("writing config file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(a.DBPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nSet CHAT_GATEWAY_SIGNING_SECRET (and S3 credentials if used), then start the server:")
	fmt.Printf("  chat-gateway serve\n")

	return nil
}

// writeConfig renders the answers as YAML
func writeConfig(w io.Writer, a initAnswers) error {
	var cfg strings.Builder
	cfg.WriteString("# chat-gateway configuration\n")
	cfg.WriteString("# Generated by chat-gateway init\n\n")

	cfg.WriteString("server:\n")
	fmt.Fprintf(&cfg, "  http_addr: %q\n\n", a.HTTPAddr)

	cfg.WriteString("database:\n")
	fmt.Fprintf(&cfg, "  path: %q\n\n", a.DBPath)

	if a.Bucket != "" {
		cfg.WriteString("storage:\n")
		fmt.Fprintf(&cfg, "  bucket: %q\n", a.Bucket)
		fmt.Fprintf(&cfg, "  region: %q\n", a.Region)
		if a.Endpoint != "" {
			fmt.Fprintf(&cfg, "  endpoint: %q\n", a.Endpoint)
			cfg.WriteString("  path_style: true\n")
		}
		cfg.WriteString("  access_key_id: \"${AWS_ACCESS_KEY_ID}\"\n")
		cfg.WriteString("  secret_access_key: \"${AWS_SECRET_ACCESS_KEY}\"\n")
		cfg.WriteString("  preview_ttl: \"72h\"\n\n")
	}

	cfg.WriteString("assistant:\n")
	fmt.Fprintf(&cfg, "  url: %q\n", a.AssistantURL)
	fmt.Fprintf(&cfg, "  escalation_url: %q\n", a.EscalationURL)
	fmt.Fprintf(&cfg, "  handoff_url: %q\n", a.HandoffURL)
	cfg.WriteString("  timeout: \"60s\"\n")
	cfg.WriteString("  file_timeout: \"120s\"\n")
	cfg.WriteString("  escalation_timeout: \"30s\"\n")
	cfg.WriteString("  history_limit: 20\n")
	cfg.WriteString("  signing_secret: \"${CHAT_GATEWAY_SIGNING_SECRET}\"\n\n")

	cfg.WriteString("handoff:\n")
	fmt.Fprintf(&cfg, "  timezone: %q\n", a.Timezone)
	cfg.WriteString("  open_hour: 9\n")
	cfg.WriteString("  close_hour: 17\n\n")

	cfg.WriteString("limits:\n")
	cfg.WriteString("  requests_per_second: 2\n")
	cfg.WriteString("  burst: 5\n")
	cfg.WriteString("  max_upload_size: \"32MB\"\n\n")

	cfg.WriteString("idempotency:\n")
	cfg.WriteString("  ttl: \"10m\"\n")
	cfg.WriteString("  max_entries: 10000\n\n")

	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", a.LogLevel)
	fmt.Fprintf(&cfg, "  format: %q\n\n", a.LogFormat)

	cfg.WriteString("metrics:\n")
	fmt.Fprintf(&cfg, "  enabled: %t\n", a.Metrics)
	cfg.WriteString("  path: \"/metrics\"\n")

	_, err := io.WriteString(w, cfg.String())
	return err
}

func yes(answer string) bool {
	answer = strings.ToLower(answer)
	return answer == "yes" || answer == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
