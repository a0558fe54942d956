package rpc

import "github.com/pkg/errors"

var (
	errBadLimit       = errors.New("limit must be a positive integer")
	errNegativePolicy = errors.New("policy values cannot be negative")
	errHunterDisabled = errors.New("hunter is disabled")
	errMissingTarget  = errors.New("cid and pinner are required")
	errCycleRunning   = errors.New("a verification cycle is already running")
)
