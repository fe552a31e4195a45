package features

import "errors"

var errEmptyInput = errors.New("no frames to extract from")
