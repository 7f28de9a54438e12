package types

import "github.com/pkg/errors"

// Error kinds, matched with errors.Is
var (
	ErrConfiguration       = errors.New("configuration error")
	ErrUnimplementedTarget = errors.Wrap(ErrConfiguration, "unimplemented target")
	ErrArgumentConflict    = errors.New("irreconcilable argument")
	ErrMemoryInfeasible    = errors.New("memory infeasible")
	ErrInternal            = errors.New("internal error")
)
