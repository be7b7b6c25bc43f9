package lock

import (
	"context"
)

type NoOpLocker struct{}

func NewNoOpLocker() *NoOpLocker {
	return &NoOpLocker{}
}

func (l *NoOpLocker) AcquireLock(ctx context.Context, key string) (Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &noopLock{}, nil
}

type noopLock struct{}

func (l *noopLock) Release() error {
	return nil
}
