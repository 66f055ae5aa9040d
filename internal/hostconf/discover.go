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

package hostconf

import (
	"os"
	"path/filepath"
	"strings"
)

// Locate returns the first hosts file found along the §6 lookup order:
// $HOMCC_DIR/hosts, ~/.homcc/hosts, ~/.config/homcc/hosts, /etc/homcc/hosts.
// It returns "" if none exist.
func Locate() string {
	var candidates []string

	if dir := os.Getenv("HOMCC_DIR"); dir != "" {
		candidates = append(candidates, filepath.Join(dir, "hosts"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(home, ".homcc", "hosts"),
			filepath.Join(home, ".config", "homcc", "hosts"),
		)
	}
	candidates = append(candidates, "/etc/homcc/hosts")

	for _, c := range candidates {
		if st, err := os.Stat(c); err == nil && !st.IsDir() {
			return c
		}
	}
	return ""
}

// Load discovers and parses the hosts file, honoring the $HOMCC_HOSTS
// override (a whitespace-separated inline value taking precedence over any
// file on disk).
func Load() ([]Host, error) {
	if inline := os.Getenv("HOMCC_HOSTS"); inline != "" {
		var hosts []Host
		for _, field := range strings.Fields(inline) {
			h, err := ParseLine(field)
			if err != nil {
				return nil, err
			}
			hosts = append(hosts, h)
		}
		return hosts, nil
	}

	path := Locate()
	if path == "" {
		return nil, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Parse(f)
}
