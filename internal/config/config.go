package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	HTTPPort       string `yaml:"port"`
	Namespace      string `yaml:"namespace"`
	BaseDomain     string `yaml:"base_domain"`
	KubeconfigPath string `yaml:"kubeconfig"`
	RegistrySecret string `yaml:"registry_secret"`
	DefaultAppPort int    `yaml:"default_app_port"`

	IngressClass     string `yaml:"ingress_class"`
	IngressTLS       bool   `yaml:"ingress_tls"`
	TLSClusterIssuer string `yaml:"tls_cluster_issuer"`

	BuildsEnabled      bool     `yaml:"builds_enabled"`
	KanikoImage        string   `yaml:"kaniko_image"`
	RegistryMirrors    []string `yaml:"registry_mirrors"`
	InsecureRegistries []string `yaml:"insecure_registries"`
	BuildHttpProxy     string   `yaml:"build_http_proxy"`
	BuildNoProxy       string   `yaml:"build_no_proxy"`

	APIToken    string `yaml:"api_token"`
	DatabaseURL string `yaml:"database_url"` // 为空时不记录发布历史
	LokiURL     string `yaml:"loki_url"`     // 为空时不提供历史日志
}

func defaults() *Config {
	return &Config{
		HTTPPort:       "8080",
		Namespace:      "default",
		BaseDomain:     "localhost",
		RegistrySecret: "regcred",
		DefaultAppPort: 3000,
		KanikoImage:    "gcr.io/kaniko-project/executor:latest",
	}
}

// Load 依次叠加：默认值 → CONFIG_FILE 指向的 YAML → 环境变量。
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	c.HTTPPort = getEnv("PORT", c.HTTPPort)
	c.Namespace = getEnv("NAMESPACE", c.Namespace)
	c.BaseDomain = getEnv("BASE_DOMAIN", c.BaseDomain)
	c.KubeconfigPath = getEnv("KUBECONFIG", c.KubeconfigPath)
	c.RegistrySecret = getEnv("REGISTRY_SECRET", c.RegistrySecret)
	c.IngressClass = getEnv("INGRESS_CLASS", c.IngressClass)
	c.TLSClusterIssuer = getEnv("TLS_CLUSTER_ISSUER", c.TLSClusterIssuer)
	c.KanikoImage = getEnv("KANIKO_IMAGE", c.KanikoImage)
	c.BuildHttpProxy = getEnv("BUILD_HTTP_PROXY", c.BuildHttpProxy)
	c.BuildNoProxy = getEnv("BUILD_NO_PROXY", c.BuildNoProxy)
	c.APIToken = getEnv("API_TOKEN", c.APIToken)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.LokiURL = getEnv("LOKI_URL", c.LokiURL)

	if v := splitCSV(os.Getenv("REGISTRY_MIRRORS")); v != nil {
		c.RegistryMirrors = v
	}
	if v := splitCSV(os.Getenv("INSECURE_REGISTRIES")); v != nil {
		c.InsecureRegistries = v
	}

	var err error
	if c.DefaultAppPort, err = getEnvInt("DEFAULT_APP_PORT", c.DefaultAppPort); err != nil {
		return err
	}
	if c.IngressTLS, err = getEnvBool("INGRESS_TLS", c.IngressTLS); err != nil {
		return err
	}
	if c.BuildsEnabled, err = getEnvBool("BUILDS_ENABLED", c.BuildsEnabled); err != nil {
		return err
	}
	return nil
}

func (c *Config) validate() error {
	if c.DefaultAppPort < 1 || c.DefaultAppPort > 65535 {
		return fmt.Errorf("config: default_app_port %d out of range", c.DefaultAppPort)
	}
	if c.Namespace == "" {
		return fmt.Errorf("config: namespace must not be empty")
	}
	if c.BaseDomain == "" {
		return fmt.Errorf("config: base_domain must not be empty")
	}
	return nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			result = append(result, v)
		}
	}
	return result
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("config: %s=%q is not an integer", key, v)
	}
	return n, nil
}

func getEnvBool(key string, defaultVal bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("config: %s=%q is not a boolean", key, v)
	}
	return b, nil
}
