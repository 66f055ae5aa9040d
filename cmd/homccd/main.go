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

// Command homccd is the distributed-compilation server: it binds one
// listener, enforces a concurrent-job ceiling, and dispatches each accepted
// connection to a sandboxed compile backed by a shared content-addressed
// cache.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nabbar/homcc/internal/cache"
	"github.com/nabbar/homcc/internal/config"
	"github.com/nabbar/homcc/internal/job"
	"github.com/nabbar/homcc/internal/logging"
	"github.com/nabbar/homcc/internal/server"
)

const (
	defaultCacheDir    = "/tmp/homcc-cache"
	defaultCacheBudget = 10 << 30 // 10 GiB
)

var (
	flagLimit               int
	flagPort                int
	flagAddress             string
	flagCacheDir            string
	flagCacheBudget         int64
	flagDockerHost          string
	flagShowCacheStatistics bool
)

func main() {
	root := &cobra.Command{
		Use:   "homccd",
		Short: "Distributed C/C++ compilation server",
		RunE:  run,
	}

	root.Flags().IntVar(&flagLimit, "limit", 0, "max concurrent jobs (overrides config)")
	root.Flags().IntVar(&flagPort, "port", 0, "listen port (overrides config)")
	root.Flags().StringVar(&flagAddress, "address", "", "listen address (overrides config)")
	root.Flags().StringVar(&flagCacheDir, "cache-dir", defaultCacheDir, "cache root directory")
	root.Flags().Int64Var(&flagCacheBudget, "cache-budget", defaultCacheBudget, "cache byte budget")
	root.Flags().StringVar(&flagDockerHost, "docker-host", "", "Docker Engine API host for the container sandbox")
	root.Flags().BoolVar(&flagShowCacheStatistics, "show-cache-statistics", false, "open the cache, print its statistics, and exit")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadServer()
	if err != nil {
		return exitWith(1, err)
	}

	if flagLimit > 0 {
		cfg.Limit = flagLimit
	}
	if flagPort > 0 {
		cfg.Port = flagPort
	}
	if flagAddress != "" {
		cfg.Address = flagAddress
	}

	log := logging.New(logging.ParseLevel(cfg.LogLevel), cfg.Verbose, os.Stderr)

	c, err := cache.Open(flagCacheDir, flagCacheBudget, log)
	if err != nil {
		return exitWith(1, err)
	}

	if flagShowCacheStatistics {
		stats := c.Stats()
		fmt.Printf("entries=%d used_bytes=%d budget_bytes=%d evictions=%d\n", stats.Entries, stats.UsedBytes, stats.BudgetBytes, stats.Evictions)
		return nil
	}

	runner := job.New(c, "", flagDockerHost, log)
	addr := fmt.Sprintf("%s:%d", cfg.Address, cfg.Port)
	srv := server.New(addr, cfg.Limit, runner, log)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infof("homccd listening on %s (limit=%d, cache=%s)", addr, cfg.Limit, flagCacheDir)
	if err := srv.Serve(ctx); err != nil && ctx.Err() == nil {
		return exitWith(1, err)
	}
	return nil
}

func exitWith(code int, err error) error {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(code)
	return nil
}
