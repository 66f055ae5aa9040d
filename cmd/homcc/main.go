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

// Command homcc is the distributed-compilation client: it mirrors the
// underlying compiler's argv, scans dependencies, picks a remote host, and
// falls back to a local compile on any remote failure.
package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/nabbar/homcc/internal/compress"
	"github.com/nabbar/homcc/internal/config"
	"github.com/nabbar/homcc/internal/errs"
	"github.com/nabbar/homcc/internal/fallback"
	"github.com/nabbar/homcc/internal/hostconf"
	"github.com/nabbar/homcc/internal/logging"
	"github.com/nabbar/homcc/internal/protocol"
	"github.com/nabbar/homcc/internal/scanner"
	"github.com/nabbar/homcc/internal/session"
	"github.com/nabbar/homcc/internal/slotpool"
)

var (
	flagHost            string
	flagTimeout         int
	flagCompression     string
	flagProfile         string
	flagDockerContainer string
	flagShowConcurrency bool
	flagScanAndClean    bool
)

func main() {
	root := &cobra.Command{
		Use:                "homcc [compiler-args...]",
		Short:              "Distributed C/C++ compilation client",
		DisableFlagParsing: false,
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
		RunE:               run,
	}

	root.Flags().StringVar(&flagHost, "host", "", "remote host (overrides the hosts file)")
	root.Flags().IntVar(&flagTimeout, "timeout", 0, "per-request timeout in seconds")
	root.Flags().StringVar(&flagCompression, "compression", "", "compression: lzo or lzma")
	root.Flags().StringVar(&flagProfile, "profile", "", "chroot sandbox profile")
	root.Flags().StringVar(&flagDockerContainer, "docker-container", "", "container sandbox name")
	root.Flags().BoolVar(&flagShowConcurrency, "show-concurrency-level", false, "print the in-flight job limit across configured hosts and exit")
	root.Flags().BoolVar(&flagScanAndClean, "scan-and-clean", false, "run the slot-registry janitor and exit")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadClient()
	if err != nil {
		return exitWith(1, err)
	}

	log := logging.New(logging.ParseLevel(cfg.LogLevel), cfg.Verbose, os.Stderr)

	if flagScanAndClean {
		return runScanAndClean(log)
	}

	hosts, err := hostconf.Load()
	if err != nil {
		return exitWith(1, err)
	}
	if flagHost != "" {
		h, err := hostconf.ParseLine(flagHost)
		if err != nil {
			return exitWith(1, err)
		}
		hosts = []hostconf.Host{h}
	}

	if flagShowConcurrency {
		fmt.Println(slotpool.InFlightLimit(hosts, math.MaxInt))
		return nil
	}

	// Hosts without an explicit ",COMPRESSION" suffix use the CLI or config
	// default.
	if algo := compress.Parse(coalesce(flagCompression, cfg.Compression)); !algo.IsNone() {
		for i := range hosts {
			if hosts[i].Compression.IsNone() {
				hosts[i].Compression = algo
			}
		}
	}

	if len(args) == 0 {
		return exitWith(1, fmt.Errorf("no compiler invocation given"))
	}
	if len(hosts) == 0 {
		return localFallback(cmd.Context(), args, cfg, log)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return exitWith(1, err)
	}

	timeout := time.Duration(cfg.Timeout) * time.Second
	if flagTimeout > 0 {
		timeout = time.Duration(flagTimeout) * time.Second
	}

	sc := scanner.New(args[0])
	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	depResult, err := sc.Scan(ctx, args, cwd)
	if err != nil {
		log.CheckError(logging.WarnLevel, "dependency scan failed, falling back locally", err)
		return localFallback(cmd.Context(), args, cfg, log)
	}

	pool := slotpool.New("")

	for _, h := range hosts {
		sess, err := session.Dial(ctx, pool, h, 5*time.Second)
		if err != nil {
			log.Debugf("host %s unavailable: %v", h.Addr(), err)
			continue
		}

		result, err := sess.Run(ctx, session.Request{
			Args:            args,
			Cwd:             cwd,
			TargetProfile:   coalesce(flagProfile, cfg.Profile),
			DockerContainer: coalesce(flagDockerContainer, cfg.DockerContainer),
			Dependencies:    depResult,
		})
		sess.Close()

		if err != nil {
			log.CheckError(logging.WarnLevel, "remote compile failed on "+h.Addr(), err)
			continue
		}

		return finish(cwd, result)
	}

	color.New(color.FgYellow).Fprintln(os.Stderr, "homcc: no remote host available, compiling locally")
	return localFallback(cmd.Context(), args, cfg, log)
}

func localFallback(ctx context.Context, args []string, cfg config.Client, log *logging.Logger) error {
	cwd, err := os.Getwd()
	if err != nil {
		return exitWith(1, err)
	}

	res, err := fallback.Run(ctx, args, cwd)
	if err != nil {
		log.CheckError(logging.ErrorLevel, "local fallback compile failed", err)
		return exitWith(1, err)
	}

	fmt.Print(res.Stdout)
	fmt.Fprint(os.Stderr, res.Stderr)
	os.Exit(res.ExitCode)
	return nil
}

// finish writes every returned object file to its path (spec §4.5 state 5),
// surfaces stdout/stderr, and exits with the remote compiler's exit code.
func finish(cwd string, result *protocol.CompilationResult) error {
	for _, obj := range result.ObjectFiles {
		path := obj.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(cwd, path)
		}
		if err := os.WriteFile(path, obj.Content, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "homcc: failed to write object file %s: %v\n", path, err)
		}
	}

	fmt.Print(result.Stdout)
	fmt.Fprint(os.Stderr, result.Stderr)

	os.Exit(int(result.ExitCode))
	return nil
}

func runScanAndClean(log *logging.Logger) error {
	pool := slotpool.New("")
	report, err := pool.Scan()
	if err != nil {
		return exitWith(1, err)
	}

	fmt.Printf("scanned %d reservations, removed %d stale entries\n", report.Scanned, report.Removed)
	for _, s := range report.Stale {
		log.Infof("removed stale slot reservation %s", s)
	}
	return nil
}

func coalesce(preferred, fallbackValue string) string {
	if preferred != "" {
		return preferred
	}
	return fallbackValue
}

func exitWith(code int, err error) error {
	if ce := errs.Code(err); ce != errs.UnknownError {
		code = ce.ExitCode()
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(code)
	return nil
}
