package proxy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// remoteManagement is the proxy's management API access block.
type remoteManagement struct {
	AllowRemote bool   `yaml:"allow-remote"`
	SecretKey   string `yaml:"secret-key"`
}

type routingConfig struct {
	Strategy string `yaml:"strategy"`
}

type quotaExceededConfig struct {
	SwitchProject      bool `yaml:"switch-project"`
	SwitchPreviewModel bool `yaml:"switch-preview-model"`
}

// proxyConfig mirrors the proxy's config.yaml schema. Only used when
// creating the file; updates go through the node-based editor so unknown
// fields added by newer proxy versions survive.
type proxyConfig struct {
	Host                   string              `yaml:"host"`
	Port                   int                 `yaml:"port"`
	AuthDir                string              `yaml:"auth-dir"`
	ProxyURL               string              `yaml:"proxy-url"`
	APIKeys                []string            `yaml:"api-keys"`
	RemoteManagement       remoteManagement    `yaml:"remote-management"`
	Debug                  bool                `yaml:"debug"`
	LoggingToFile          bool                `yaml:"logging-to-file"`
	UsageStatisticsEnabled bool                `yaml:"usage-statistics-enabled"`
	Routing                routingConfig       `yaml:"routing"`
	QuotaExceeded          quotaExceededConfig `yaml:"quota-exceeded"`
	RequestRetry           int                 `yaml:"request-retry"`
	MaxRetryInterval       int                 `yaml:"max-retry-interval"`
}

// ensureConfigFile creates config.yaml with defaults when absent. The file
// holds the management secret and API keys, so it is owner-only.
func ensureConfigFile(path string, port int, authDir, secret, initialAPIKey string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("proxy: stat config: %w", err)
	}

	cfg := proxyConfig{
		Host:     "127.0.0.1",
		Port:     port,
		AuthDir:  authDir,
		ProxyURL: "",
		APIKeys:  []string{initialAPIKey},
		RemoteManagement: remoteManagement{
			AllowRemote: false,
			SecretKey:   secret,
		},
		Debug:                  false,
		LoggingToFile:          false,
		UsageStatisticsEnabled: true,
		Routing:                routingConfig{Strategy: "round-robin"},
		QuotaExceeded: quotaExceededConfig{
			SwitchProject:      true,
			SwitchPreviewModel: true,
		},
		RequestRetry:     3,
		MaxRetryInterval: 30,
	}

	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("proxy: encode config: %w", err)
	}
	return writeConfigFile(path, data)
}

// updateConfigValue rewrites one top-level key in config.yaml, leaving every
// other node (including keys this build doesn't know about) untouched.
func updateConfigValue(path, key string, value any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("proxy: read config: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("proxy: parse config: %w", err)
	}
	if len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return fmt.Errorf("proxy: config is not a yaml mapping")
	}

	valueNode := &yaml.Node{}
	if err := valueNode.Encode(value); err != nil {
		return fmt.Errorf("proxy: encode %s: %w", key, err)
	}

	root := doc.Content[0]
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == key {
			root.Content[i+1] = valueNode
			out, err := yaml.Marshal(&doc)
			if err != nil {
				return fmt.Errorf("proxy: encode config: %w", err)
			}
			return writeConfigFile(path, out)
		}
	}

	// Key absent: append it.
	keyNode := &yaml.Node{Kind: yaml.ScalarNode, Value: key}
	root.Content = append(root.Content, keyNode, valueNode)
	out, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("proxy: encode config: %w", err)
	}
	return writeConfigFile(path, out)
}

// readConfigValue decodes one top-level key from config.yaml into out.
func readConfigValue(path, key string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("proxy: read config: %w", err)
	}
	var raw map[string]yaml.Node
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("proxy: parse config: %w", err)
	}
	node, ok := raw[key]
	if !ok {
		return fmt.Errorf("proxy: config has no key %q", key)
	}
	if err := node.Decode(out); err != nil {
		return fmt.Errorf("proxy: decode %s: %w", key, err)
	}
	return nil
}

func writeConfigFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("proxy: write config: %w", err)
	}
	return os.Chmod(path, 0o600)
}
