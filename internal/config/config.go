// Package config loads KITT's YAML configuration and the environment
// variables layered on top of it, via gopkg.in/yaml.v3.
package config

import (
	"encoding/base64"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LiveKit holds the SFU connection parameters used both to mint room
// tokens and to look up rooms for the direct-join endpoint.
type LiveKit struct {
	URL       string `yaml:"url"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"secret_key"`
}

// Logging controls kittlog's initialization.
type Logging struct {
	Level string `yaml:"level"`
}

// Config is the full set of options the service recognizes.
type Config struct {
	LiveKit      LiveKit `yaml:"livekit"`
	OpenAIAPIKey string  `yaml:"openai_api_key"`
	Port         string  `yaml:"port"`
	Logging      Logging `yaml:"logging"`

	// GoogleCredentialsJSON is resolved from the environment, never from
	// YAML: either read from GOOGLE_APPLICATION_CREDENTIALS (a path) or
	// taken from GOOGLE_APPLICATION_CREDENTIALS_BODY (raw or base64 JSON).
	GoogleCredentialsJSON []byte
}

// Load reads LIVEKIT_CONFIG_FILE or LIVEKIT_CONFIG_BODY (file wins if both
// are set), then fills in from the remaining recognized environment
// variables; OPENAI_API_KEY is used only when the YAML sets no key.
func Load() (*Config, error) {
	body, err := configBody()
	if err != nil {
		return nil, err
	}

	var cfg Config
	if len(body) > 0 {
		if err := yaml.Unmarshal(body, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	}

	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.OpenAIAPIKey == "" {
		cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	}

	creds, err := googleCredentials()
	if err != nil {
		return nil, err
	}
	cfg.GoogleCredentialsJSON = creds

	return &cfg, nil
}

func configBody() ([]byte, error) {
	if path := os.Getenv("LIVEKIT_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		return data, nil
	}
	if body := os.Getenv("LIVEKIT_CONFIG_BODY"); body != "" {
		return []byte(body), nil
	}
	return nil, nil
}

func googleCredentials() ([]byte, error) {
	if path := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read google credentials: %w", err)
		}
		return data, nil
	}
	if body := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_BODY"); body != "" {
		// Accept either raw JSON or base64-wrapped JSON: operators commonly
		// paste service-account keys through env vars in either form.
		if decoded, err := base64.StdEncoding.DecodeString(body); err == nil {
			return decoded, nil
		}
		return []byte(body), nil
	}
	return nil, nil
}
