package rawdl

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the user settings, as read from a YAML file or flags.
type Config struct {
	// SSLVerify defaults to true when unset.
	SSLVerify *bool `yaml:"ssl_verify"`
	Proxy     string `yaml:"proxy"`
	// Timeout in seconds, unset for none.
	Timeout *float64 `yaml:"timeout"`
	// HTTPHeaders and Cookies are "key=value" pairs joined by ";".
	HTTPHeaders string `yaml:"http_headers"`
	Cookies     string `yaml:"cookies"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	config := &Config{}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return config, nil
}

// ClientConfig validates the settings and converts them for NewClient.
func (c *Config) ClientConfig() (ClientConfig, error) {
	var cc ClientConfig
	if c.SSLVerify != nil {
		cc.InsecureSkipVerify = !*c.SSLVerify
	}
	if c.Proxy != "" {
		proxy, err := url.Parse(c.Proxy)
		if err != nil {
			return cc, fmt.Errorf("proxy: %w", err)
		}
		if proxy.Scheme == "" || proxy.Host == "" {
			return cc, fmt.Errorf("proxy: %q is not an absolute url", c.Proxy)
		}
		cc.Proxy = proxy
	}
	if c.Timeout != nil {
		if *c.Timeout < 0 {
			return cc, fmt.Errorf("timeout cannot be negative")
		}
		cc.Timeout = time.Duration(*c.Timeout * float64(time.Second))
	}
	if c.HTTPHeaders != "" {
		headers, err := SplitHeader(c.HTTPHeaders)
		if err != nil {
			return cc, fmt.Errorf("http_headers: %w", err)
		}
		cc.ExtraHeaders = headers
	}
	if c.Cookies != "" {
		cookies, err := SplitHeader(c.Cookies)
		if err != nil {
			return cc, fmt.Errorf("cookies: %w", err)
		}
		cc.Cookies = cookies
	}
	return cc, nil
}

// NewClient builds a Client from the settings.
func (c *Config) NewClient() (*Client, error) {
	cc, err := c.ClientConfig()
	if err != nil {
		return nil, err
	}
	return NewClient(cc)
}
