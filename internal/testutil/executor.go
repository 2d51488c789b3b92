package testutil

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockExecutor is a testify mock satisfying tool.Executor.
//
//	exec := &MockExecutor{}
//	exec.On("Call", mock.Anything, "search", mock.Anything).Return(map[string]any{"ok": true}, nil)
type MockExecutor struct{ mock.Mock }

// Call implements tool.Executor.
func (m *MockExecutor) Call(ctx context.Context, name string, args map[string]any) (map[string]any, error) {
	ret := m.Called(ctx, name, args)
	var out map[string]any
	if v := ret.Get(0); v != nil {
		out = v.(map[string]any)
	}
	return out, ret.Error(1)
}
