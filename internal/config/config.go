package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the configuration for the application.
type Config struct {
	DBPath       string
	APIBaseURL   string
	GeminiAPIKey string

	AutoSaveInterval  time.Duration
	TaskSweepInterval time.Duration
	TimeSlots         []string
}

// settingsFile is the optional YAML settings file referenced by
// FITME_SETTINGS. Zero values fall back to the defaults.
type settingsFile struct {
	AutoSaveIntervalSeconds  int      `yaml:"auto_save_interval_seconds"`
	TaskSweepIntervalSeconds int      `yaml:"task_sweep_interval_seconds"`
	TimeSlots                []string `yaml:"time_slots"`
}

// defaultTimeSlots are the routine slots shown before any task exists.
var defaultTimeSlots = []string{
	"7:00 AM", "8:00 AM", "9:00 AM", "10:00 AM", "11:00 AM", "12:00 PM", "7:00 PM",
}

// NewFromEnv creates a new Config object from environment variables and
// the optional settings file.
func NewFromEnv() (*Config, error) {
	dbPath := os.Getenv("FITME_DB_PATH")
	if dbPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		dbPath = filepath.Join(home, ".fitme", "fitme.db")
	}

	apiBaseURL := os.Getenv("FITME_API_URL")
	if apiBaseURL == "" {
		apiBaseURL = "http://localhost:8000"
	}

	// Optional: without a key, plan generation is unavailable but the
	// local store keeps working.
	geminiAPIKey := os.Getenv("GEMINI_API_KEY")

	cfg := &Config{
		DBPath:            dbPath,
		APIBaseURL:        apiBaseURL,
		GeminiAPIKey:      geminiAPIKey,
		AutoSaveInterval:  30 * time.Second,
		TaskSweepInterval: time.Minute,
		TimeSlots:         defaultTimeSlots,
	}

	if settingsPath := os.Getenv("FITME_SETTINGS"); settingsPath != "" {
		if err := cfg.applySettings(settingsPath); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// TestConfig returns a configuration for testing.
func TestConfig(testDir string) *Config {
	return &Config{
		DBPath:            filepath.Join(testDir, "fitme.db"),
		APIBaseURL:        "http://localhost:8000",
		AutoSaveInterval:  30 * time.Second,
		TaskSweepInterval: time.Minute,
		TimeSlots:         defaultTimeSlots,
	}
}

func (c *Config) applySettings(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read settings file %s: %w", path, err)
	}

	var settings settingsFile
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return fmt.Errorf("failed to parse settings file %s: %w", path, err)
	}

	if settings.AutoSaveIntervalSeconds > 0 {
		c.AutoSaveInterval = time.Duration(settings.AutoSaveIntervalSeconds) * time.Second
	}
	if settings.TaskSweepIntervalSeconds > 0 {
		c.TaskSweepInterval = time.Duration(settings.TaskSweepIntervalSeconds) * time.Second
	}
	if len(settings.TimeSlots) > 0 {
		c.TimeSlots = settings.TimeSlots
	}
	return nil
}
