package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/keydrop/server/middleware"
	"github.com/keydrop/server/services"
	"github.com/keydrop/server/services/live"
	"github.com/keydrop/server/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockLiveService is a mock implementation of LiveService
type MockLiveService struct {
	mock.Mock
}

func (m *MockLiveService) IssueToken(req live.TokenRequest) (*live.TokenResult, error) {
	args := m.Called(req)
	if res := args.Get(0); res != nil {
		return res.(*live.TokenResult), args.Error(1)
	}
	return nil, args.Error(1)
}

func TestHandleToken(t *testing.T) {
	logger := zap.NewNop()

	t.Run("success returns minted token", func(t *testing.T) {
		svc := new(MockLiveService)
		svc.On("IssueToken", live.TokenRequest{Room: "friday-set", Identity: "dj-ana", Role: "DJ"}).
			Return(&live.TokenResult{
				Token:    "capability-jwt",
				URL:      "wss://live.keydrop.io",
				Room:     "friday-set",
				Identity: "dj-ana",
				Role:     "DJ",
			}, nil)
		h := NewLiveHandler(svc, logger)

		w := postJSON(t, h.HandleToken, "/api/live/token",
			live.TokenRequest{Room: "friday-set", Identity: "dj-ana", Role: "DJ"})

		assert.Equal(t, http.StatusOK, w.Code)

		var resp utils.SuccessResponse
		require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
		data := resp.Data.(map[string]interface{})
		assert.Equal(t, "capability-jwt", data["token"])
		assert.Equal(t, "friday-set", data["room"])
		svc.AssertExpectations(t)
	})

	t.Run("empty body issues defaults", func(t *testing.T) {
		svc := new(MockLiveService)
		svc.On("IssueToken", live.TokenRequest{}).
			Return(&live.TokenResult{Token: "t", Room: "default", Role: "VIEWER"}, nil)
		h := NewLiveHandler(svc, logger)

		req := httptest.NewRequest(http.MethodPost, "/api/live/token", nil)
		w := httptest.NewRecorder()
		h.HandleToken(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		svc.AssertExpectations(t)
	})

	t.Run("authenticated caller without identity gets their user ID", func(t *testing.T) {
		userID := uuid.New()
		svc := new(MockLiveService)
		svc.On("IssueToken", live.TokenRequest{Identity: userID.String()}).
			Return(&live.TokenResult{Token: "t", Room: "default", Identity: userID.String(), Role: "VIEWER"}, nil)
		h := NewLiveHandler(svc, logger)

		req := httptest.NewRequest(http.MethodPost, "/api/live/token", nil)
		req = req.WithContext(middleware.WithUserID(req.Context(), userID))
		w := httptest.NewRecorder()
		h.HandleToken(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		svc.AssertExpectations(t)
	})

	t.Run("explicit identity wins over authenticated user", func(t *testing.T) {
		svc := new(MockLiveService)
		svc.On("IssueToken", live.TokenRequest{Identity: "dj-ana"}).
			Return(&live.TokenResult{Token: "t", Room: "default", Identity: "dj-ana", Role: "VIEWER"}, nil)
		h := NewLiveHandler(svc, logger)

		req := httptest.NewRequest(http.MethodPost, "/api/live/token",
			bytes.NewReader([]byte(`{"identity":"dj-ana"}`)))
		req = req.WithContext(middleware.WithUserID(req.Context(), uuid.New()))
		w := httptest.NewRecorder()
		h.HandleToken(w, req)

		assert.Equal(t, http.StatusOK, w.Code)
		svc.AssertExpectations(t)
	})

	t.Run("malformed body returns 400", func(t *testing.T) {
		svc := new(MockLiveService)
		h := NewLiveHandler(svc, logger)

		req := httptest.NewRequest(http.MethodPost, "/api/live/token", bytes.NewReader([]byte("{bad")))
		w := httptest.NewRecorder()
		h.HandleToken(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		svc.AssertNotCalled(t, "IssueToken")
	})

	t.Run("unknown role returns 400", func(t *testing.T) {
		svc := new(MockLiveService)
		svc.On("IssueToken", mock.Anything).Return(nil, services.ErrUnknownRole)
		h := NewLiveHandler(svc, logger)

		w := postJSON(t, h.HandleToken, "/api/live/token", live.TokenRequest{Role: "SUPERADMIN"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("missing media credentials returns 500", func(t *testing.T) {
		svc := new(MockLiveService)
		svc.On("IssueToken", mock.Anything).
			Return(nil, services.NewDomainError(services.ErrorTypeInternal, "live tokens unavailable", nil))
		h := NewLiveHandler(svc, logger)

		w := postJSON(t, h.HandleToken, "/api/live/token", live.TokenRequest{})
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})
}
