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

// Package rewrite implements the server-side argument rewriter of spec
// §4.10: reparent -o/-I/-isystem paths under a job's root_dir, strip
// dependency-generation flags, and reject argv the sandbox cannot honor.
package rewrite

import (
	"path/filepath"
	"strings"

	"github.com/nabbar/homcc/internal/errs"
)

// Result is the outcome of rewriting one compiler invocation.
type Result struct {
	Inputs     []string
	Outputs    []string
	RemoteArgv []string
	RemoteCwd  string
}

// Rewrite reparents every absolute path referenced by argv under rootDir,
// preserving the absolute layout so #include resolution inside the sandbox
// sees the same paths the client preprocessor saw (spec §4.8's closing note).
func Rewrite(argv []string, cwd, rootDir string) (*Result, error) {
	if len(argv) == 0 {
		return nil, errs.New(errs.UnsupportedArgv, nil)
	}

	res := &Result{RemoteCwd: reparent(cwd, rootDir)}

	hasDashC := false
	res.RemoteArgv = append(res.RemoteArgv, argv[0])

	args := argv[1:]
	for i := 0; i < len(args); i++ {
		a := args[i]

		switch {
		case a == "-c":
			hasDashC = true
			res.RemoteArgv = append(res.RemoteArgv, a)

		case a == "-":
			return nil, errs.Newf(errs.UnsupportedArgv, "stdin input is not supported")

		case strings.HasPrefix(a, "-M"):
			// Strip dependency-generation flags; -MF/-MT/-MQ also consume
			// the following argument.
			if a == "-MF" || a == "-MT" || a == "-MQ" {
				i++
			}
			continue

		case a == "-o":
			if i+1 >= len(args) {
				return nil, errs.Newf(errs.UnsupportedArgv, "-o with no path")
			}
			i++
			out := reparent(resolve(args[i], cwd), rootDir)
			res.Outputs = append(res.Outputs, out)
			res.RemoteArgv = append(res.RemoteArgv, "-o", out)

		case strings.HasPrefix(a, "-o") && len(a) > 2:
			out := reparent(resolve(a[2:], cwd), rootDir)
			res.Outputs = append(res.Outputs, out)
			res.RemoteArgv = append(res.RemoteArgv, "-o"+out)

		case a == "-I" || a == "-isystem":
			if i+1 >= len(args) {
				return nil, errs.Newf(errs.UnsupportedArgv, "%s with no path", a)
			}
			i++
			in := reparent(resolve(args[i], cwd), rootDir)
			res.RemoteArgv = append(res.RemoteArgv, a, in)

		case strings.HasPrefix(a, "-I") && len(a) > 2:
			in := reparent(resolve(a[2:], cwd), rootDir)
			res.RemoteArgv = append(res.RemoteArgv, "-I"+in)

		case !strings.HasPrefix(a, "-"):
			in := reparent(resolve(a, cwd), rootDir)
			res.Inputs = append(res.Inputs, in)
			res.RemoteArgv = append(res.RemoteArgv, in)

		default:
			res.RemoteArgv = append(res.RemoteArgv, a)
		}
	}

	if !hasDashC {
		return nil, errs.Newf(errs.UnsupportedArgv, "linking is not supported, argv must request -c")
	}
	if len(res.Inputs) == 0 {
		return nil, errs.Newf(errs.UnsupportedArgv, "argv names no input file")
	}

	return res, nil
}

func resolve(path, cwd string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(cwd, path)
}

// reparent maps an absolute path into rootDir, preserving its absolute
// structure: "/usr/include/x.h" becomes "<rootDir>/usr/include/x.h".
func reparent(absPath, rootDir string) string {
	return filepath.Join(rootDir, absPath)
}
