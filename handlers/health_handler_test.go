package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockDatabaseChecker is a mock implementation of DatabaseChecker
type MockDatabaseChecker struct {
	mock.Mock
}

func (m *MockDatabaseChecker) HealthCheck(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func TestHandleHealth(t *testing.T) {
	h := NewHealthHandler(nil, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	h.HandleHealth(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHandleReadiness(t *testing.T) {
	logger := zap.NewNop()

	decodeHealth := func(t *testing.T, w *httptest.ResponseRecorder) HealthResponse {
		t.Helper()
		var resp struct {
			Data HealthResponse `json:"data"`
		}
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		return resp.Data
	}

	t.Run("healthy database reports ready", func(t *testing.T) {
		checker := new(MockDatabaseChecker)
		checker.On("HealthCheck", mock.Anything).Return(nil)
		h := NewHealthHandler(checker, logger)

		req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
		w := httptest.NewRecorder()
		h.HandleReadiness(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		body := decodeHealth(t, w)
		assert.Equal(t, "healthy", body.Status)
		assert.Equal(t, "healthy", body.Checks["database"])
		checker.AssertExpectations(t)
	})

	t.Run("failing database reports 503", func(t *testing.T) {
		checker := new(MockDatabaseChecker)
		checker.On("HealthCheck", mock.Anything).Return(assert.AnError)
		h := NewHealthHandler(checker, logger)

		req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
		w := httptest.NewRecorder()
		h.HandleReadiness(w, req)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		body := decodeHealth(t, w)
		assert.Equal(t, "unhealthy", body.Status)
		assert.Equal(t, "unhealthy", body.Checks["database"])
	})

	t.Run("no database configured reports ready", func(t *testing.T) {
		h := NewHealthHandler(nil, logger)

		req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
		w := httptest.NewRecorder()
		h.HandleReadiness(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
	})
}
