package listener

import "errors"

// ErrParse indicates an inbound sensor payload that is not a JSON object.
var ErrParse = errors.New("listener: invalid sensor payload")
