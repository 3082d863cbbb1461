package config

import (
	"fmt"
	"os"
	"path/filepath"

	"toolctl/pkg/logging"

	"gopkg.in/yaml.v3"
)

// For mocking in tests
var osUserHomeDir = os.UserHomeDir
var osGetwd = os.Getwd

const (
	userConfigDir    = ".config/toolctl"
	projectConfigDir = ".toolctl"
	configFileName   = "config.yaml"
)

// LoadConfig loads the toolctl configuration by layering default, user, and
// project settings. Missing files are fine; unreadable or invalid ones are
// an error so a typo never silently drops half the server list.
func LoadConfig() (Config, error) {
	config := DefaultConfig()

	userConfigPath, err := getUserConfigPath()
	if err != nil {
		logging.Warn("Config", "Could not determine user config path: %v", err)
	} else if _, statErr := os.Stat(userConfigPath); statErr == nil {
		userConfig, err := loadConfigFromFile(userConfigPath)
		if err != nil {
			return Config{}, fmt.Errorf("error loading user config from %s: %w", userConfigPath, err)
		}
		config = mergeConfigs(config, userConfig)
	}

	projectConfigPath, err := getProjectConfigPath()
	if err != nil {
		logging.Warn("Config", "Could not determine project config path: %v", err)
	} else if _, statErr := os.Stat(projectConfigPath); statErr == nil {
		projectConfig, err := loadConfigFromFile(projectConfigPath)
		if err != nil {
			return Config{}, fmt.Errorf("error loading project config from %s: %w", projectConfigPath, err)
		}
		config = mergeConfigs(config, projectConfig)
	}

	for _, def := range config.Servers {
		if err := ValidateDefinition(def); err != nil {
			return Config{}, err
		}
	}

	return config, nil
}

var getUserConfigPath = func() (string, error) {
	homeDir, err := osUserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, userConfigDir, configFileName), nil
}

var getProjectConfigPath = func() (string, error) {
	wd, err := osGetwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, projectConfigDir, configFileName), nil
}

// loadConfigFromFile loads a Config from a YAML file.
func loadConfigFromFile(filePath string) (Config, error) {
	var config Config
	data, err := os.ReadFile(filePath)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Config{}, err
	}
	return config, nil
}

// mergeConfigs merges 'overlay' config into 'base' config. Server
// definitions merge by name, with the overlay replacing base entries.
func mergeConfigs(base, overlay Config) Config {
	merged := base

	if overlay.LogLevel != "" {
		merged.LogLevel = overlay.LogLevel
	}
	if overlay.StateFile != "" {
		merged.StateFile = overlay.StateFile
	}
	if overlay.Aggregate.Host != "" {
		merged.Aggregate.Host = overlay.Aggregate.Host
	}
	if overlay.Aggregate.Port != 0 {
		merged.Aggregate.Port = overlay.Aggregate.Port
	}

	serverMap := make(map[string]ToolServerDefinition)
	var order []string
	for _, srv := range merged.Servers {
		if _, seen := serverMap[srv.Name]; !seen {
			order = append(order, srv.Name)
		}
		serverMap[srv.Name] = srv
	}
	for _, srv := range overlay.Servers {
		if _, seen := serverMap[srv.Name]; !seen {
			order = append(order, srv.Name)
		}
		serverMap[srv.Name] = srv
	}
	merged.Servers = nil
	for _, name := range order {
		merged.Servers = append(merged.Servers, serverMap[name])
	}

	return merged
}

// FindServer returns the definition for a server name, if configured.
func (c Config) FindServer(name string) (ToolServerDefinition, bool) {
	for _, srv := range c.Servers {
		if srv.Name == name {
			return srv, true
		}
	}
	return ToolServerDefinition{}, false
}
