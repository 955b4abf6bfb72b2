package domain

import "errors"

var ErrInvalidTransition = errors.New("invalid job status transition")
