/*
 * MIT License
 *
 * Copyright (c) 2020 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 */

// Package config loads the INI-like [homcc]/[homccd] configuration file
// described in spec §6 via spf13/viper, layering HOMCC_* environment
// variables over file values over built-in defaults. Callers overlay explicit CLI
// flags themselves (see cmd/homcc, cmd/homccd): cobra's flat flag names
// don't map 1:1 onto the nested ini section.key namespace viper binds here.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Client holds the resolved [homcc] section.
type Client struct {
	Compiler        string
	Timeout         int
	Compression     string
	Profile         string
	DockerContainer string
	LogLevel        string
	Verbose         bool
}

// Server holds the resolved [homccd] section.
type Server struct {
	Limit    int
	Port     int
	Address  string
	LogLevel string
	Verbose  bool
}

// defaults seeds every recognized key so an absent config file still
// produces a usable configuration.
func defaults(v *viper.Viper) {
	v.SetDefault("homcc.compiler", "cc")
	v.SetDefault("homcc.timeout", 60)
	v.SetDefault("homcc.compression", "lzo")
	v.SetDefault("homcc.profile", "")
	v.SetDefault("homcc.docker_container", "")
	v.SetDefault("homcc.log_level", "info")
	v.SetDefault("homcc.verbose", false)

	v.SetDefault("homccd.limit", 4)
	v.SetDefault("homccd.port", 3633)
	v.SetDefault("homccd.address", "0.0.0.0")
	v.SetDefault("homccd.log_level", "info")
	v.SetDefault("homccd.verbose", false)
}

// newViper builds a Viper instance reading the INI config file (if any) and
// the HOMCC_* environment variables, per spec §6.
func newViper() *viper.Viper {
	v := viper.New()
	defaults(v)

	v.SetConfigType("ini")
	v.SetEnvPrefix("HOMCC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := locateConfigFile(); path != "" {
		v.SetConfigFile(path)
		_ = v.ReadInConfig()
	}

	return v
}

// locateConfigFile mirrors the hosts-file lookup order of spec §6, applied
// to the config file instead: $HOMCC_DIR/config, ~/.homcc/config,
// ~/.config/homcc/config, /etc/homcc/config.
func locateConfigFile() string {
	var candidates []string

	if dir := os.Getenv("HOMCC_DIR"); dir != "" {
		candidates = append(candidates, filepath.Join(dir, "config"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(home, ".homcc", "config"),
			filepath.Join(home, ".config", "homcc", "config"),
		)
	}
	candidates = append(candidates, "/etc/homcc/config")

	for _, c := range candidates {
		if st, err := os.Stat(c); err == nil && !st.IsDir() {
			return c
		}
	}
	return ""
}

// LoadClient resolves the [homcc] section from the config file, environment,
// and built-in defaults. Callers (cmd/homcc) overlay explicit CLI flags
// afterwards, since cobra flag names (--host, --timeout, ...) don't map
// 1:1 onto the ini section.key namespace viper binds here.
func LoadClient() (Client, error) {
	v := newViper()

	return Client{
		Compiler:        v.GetString("homcc.compiler"),
		Timeout:         v.GetInt("homcc.timeout"),
		Compression:     v.GetString("homcc.compression"),
		Profile:         v.GetString("homcc.profile"),
		DockerContainer: v.GetString("homcc.docker_container"),
		LogLevel:        v.GetString("homcc.log_level"),
		Verbose:         v.GetBool("homcc.verbose"),
	}, nil
}

// LoadServer resolves the [homccd] section analogously.
func LoadServer() (Server, error) {
	v := newViper()

	return Server{
		Limit:    v.GetInt("homccd.limit"),
		Port:     v.GetInt("homccd.port"),
		Address:  v.GetString("homccd.address"),
		LogLevel: v.GetString("homccd.log_level"),
		Verbose:  v.GetBool("homccd.verbose"),
	}, nil
}
