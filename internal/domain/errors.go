package domain

import "errors"

var ErrUnknownRole = errors.New("domain: unknown role")
