package scheduler

import (
	"context"
	"errors"
)

// Steps chains job stages into one Run func. Every stage runs even when an
// earlier one failed, so a notification pass that only needs the local store
// still drains its backlog while the upstream is down. Stage errors are
// joined in order.
func Steps(steps ...func(context.Context) error) func(context.Context) error {
	return func(ctx context.Context) error {
		var errs []error
		for _, step := range steps {
			if err := step(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}
