// Package mocks provides testify mocks for the ports other packages depend
// on: token refresh and session revocation.
package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/lukaszraczylo/oidcsession/token"
)

// Exchanger is a testify mock of token.Exchanger.
type Exchanger struct {
	mock.Mock
}

// Refresh records the call and returns the programmed response.
func (m *Exchanger) Refresh(ctx context.Context, refreshToken string) (*token.Response, error) {
	args := m.Called(ctx, refreshToken)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*token.Response), args.Error(1)
}

// RevocationStore is a testify mock of revocation.Store.
type RevocationStore struct {
	mock.Mock
}

// Revoke records the call.
func (m *RevocationStore) Revoke(ctx context.Context, sessionID string, ttl time.Duration) error {
	args := m.Called(ctx, sessionID, ttl)
	return args.Error(0)
}

// IsRevoked returns the programmed answer.
func (m *RevocationStore) IsRevoked(ctx context.Context, sessionID string) (bool, error) {
	args := m.Called(ctx, sessionID)
	return args.Bool(0), args.Error(1)
}
