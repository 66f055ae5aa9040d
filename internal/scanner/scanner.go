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

// Package scanner runs the client-side dependency scan described in spec
// §4.4: invoke the compiler in dependency-listing mode, parse the set of
// absolute paths it read, and hash each one.
package scanner

import (
	"bufio"
	"context"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/nabbar/homcc/internal/digest"
	"github.com/nabbar/homcc/internal/errs"
)

// Result is the scan's output: the set of dependency paths this translation
// unit reads, each mapped to its content digest, keyed the way the server
// will see them (absolute, as read from the compiler's own dependency list).
type Result struct {
	Hashes map[string]digest.Digest
}

// Scanner invokes a real compiler to discover dependencies. It is grounded
// on the spec's "equivalent to -M" wording: GCC- and Clang-compatible
// compilers honor -M/-MM; the scanner translates the caller's normal argv
// into a dependency-listing invocation by appending the flag and stripping
// any existing output redirection.
type Scanner struct {
	Compiler string
}

// New returns a Scanner for the given compiler binary (e.g. "gcc", "clang++").
func New(compiler string) *Scanner {
	return &Scanner{Compiler: compiler}
}

// Scan runs the dependency listing for argv in cwd and hashes every path it
// names.
func (s *Scanner) Scan(ctx context.Context, argv []string, cwd string) (*Result, error) {
	// argv[0] names the compiler itself; s.Compiler runs in its place.
	if len(argv) > 0 {
		argv = argv[1:]
	}
	depArgv := toDependencyMode(argv)

	cmd := exec.CommandContext(ctx, s.Compiler, depArgv...)
	cmd.Dir = cwd

	out, err := cmd.Output()
	if err != nil {
		return nil, errs.New(errs.NotFound, err)
	}

	paths := parseMakeRule(string(out))

	hashes := make(map[string]digest.Digest, len(paths))
	for _, p := range paths {
		abs := p
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(cwd, abs)
		}
		d, err := digest.OfFile(abs)
		if err != nil {
			return nil, errs.New(errs.NotFound, err)
		}
		hashes[abs] = d
	}

	return &Result{Hashes: hashes}, nil
}

// toDependencyMode strips any existing -M* and -o flags the caller might
// already have passed and appends -M, so the same normal compile argv can be
// reused for the scan without the caller building a second argv by hand.
func toDependencyMode(argv []string) []string {
	out := make([]string, 0, len(argv)+1)
	skipNext := false
	for _, a := range argv {
		if skipNext {
			skipNext = false
			continue
		}
		if a == "-o" {
			skipNext = true
			continue
		}
		if strings.HasPrefix(a, "-o") && len(a) > 2 {
			continue
		}
		if strings.HasPrefix(a, "-M") {
			if a == "-MF" || a == "-MT" || a == "-MQ" {
				skipNext = true
			}
			continue
		}
		out = append(out, a)
	}
	out = append(out, "-M")
	return out
}

// parseMakeRule extracts the whitespace-separated, backslash-continued
// dependency list a -M invocation prints after the target's colon
// ("target: dep1 dep2 \\\n  dep3 ...").
func parseMakeRule(out string) []string {
	joined := strings.ReplaceAll(out, "\\\n", " ")

	var deps []string
	sc := bufio.NewScanner(strings.NewReader(joined))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for sc.Scan() {
		line := sc.Text()
		if idx := strings.IndexByte(line, ':'); idx >= 0 {
			line = line[idx+1:]
		}
		for _, field := range strings.Fields(line) {
			deps = append(deps, field)
		}
	}

	return deps
}
