package fallback

import "errors"

var errEmptyArgv = errors.New("fallback: empty argv")
