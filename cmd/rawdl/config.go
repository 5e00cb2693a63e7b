package main

import (
	"github.com/maxerenberg/rawdl"
	flag "github.com/spf13/pflag"
)

func addClientFlags(flags *flag.FlagSet) {
	flags.StringP("config", "c", "", "YAML file with ssl_verify, proxy, timeout, http_headers and cookies")
	flags.Bool("ssl-verify", true, "Verify TLS certificates")
	flags.String("proxy", "", "Proxy URL to send requests through")
	flags.Float64("timeout", 0, "Seconds to wait for a connection or response headers (0 for none)")
	flags.String("http-headers", "", `Extra HTTP headers as "key=value;key2=value2"`)
	flags.String("cookies", "", `Cookies as "name=value;name2=value2"`)
}

// configFromFlags loads the config file, if any, and overrides it with the
// flags given on the command line.
func configFromFlags(flags *flag.FlagSet) (*rawdl.Config, error) {
	path, err := flags.GetString("config")
	if err != nil {
		return nil, err
	}
	config := &rawdl.Config{}
	if path != "" {
		if config, err = rawdl.LoadConfig(path); err != nil {
			return nil, err
		}
	}

	if flags.Changed("ssl-verify") {
		v, err := flags.GetBool("ssl-verify")
		if err != nil {
			return nil, err
		}
		config.SSLVerify = &v
	}
	if flags.Changed("timeout") {
		v, err := flags.GetFloat64("timeout")
		if err != nil {
			return nil, err
		}
		config.Timeout = &v
	}
	for name, dst := range map[string]*string{
		"proxy":        &config.Proxy,
		"http-headers": &config.HTTPHeaders,
		"cookies":      &config.Cookies,
	} {
		if !flags.Changed(name) {
			continue
		}
		if *dst, err = flags.GetString(name); err != nil {
			return nil, err
		}
	}
	return config, nil
}
