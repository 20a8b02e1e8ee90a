package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	balancedomain "github.com/smallbiznis/aitime/internal/balance/domain"
	"github.com/smallbiznis/aitime/internal/billing"
	"github.com/smallbiznis/aitime/internal/config"
	consumptiondomain "github.com/smallbiznis/aitime/internal/consumption/domain"
	estimatordomain "github.com/smallbiznis/aitime/internal/estimator/domain"
	trackingdomain "github.com/smallbiznis/aitime/internal/tracking/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type fakeTrackingService struct {
	session *trackingdomain.Session
	record  *consumptiondomain.ConsumptionRecord
	err     error
}

func (f *fakeTrackingService) StartTracking(ctx context.Context, userID, buildID string, opType consumptiondomain.OperationType, opCtx estimatordomain.OperationContext, existingOperationID string) (*trackingdomain.Session, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

func (f *fakeTrackingService) EndTracking(ctx context.Context, userID, trackingID string, end trackingdomain.EndContext) (*consumptiondomain.ConsumptionRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.record, nil
}

type fakeBalanceService struct {
	balance *balancedomain.Balance
	resets  int64
	err     error
}

func (f *fakeBalanceService) GetUserBalance(ctx context.Context, userID string) (*balancedomain.Balance, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.balance, nil
}

func (f *fakeBalanceService) CheckSufficientBalance(ctx context.Context, userID string, seconds int64) (bool, error) {
	return false, f.err
}

func (f *fakeBalanceService) AddPurchasedMinutes(ctx context.Context, userID string, minutes int64, source balancedomain.PurchaseSource) (*balancedomain.Balance, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.balance, nil
}

func (f *fakeBalanceService) ResetDailyAllocation(ctx context.Context) (int64, error) {
	return f.resets, f.err
}

func newTestServer(t *testing.T, tracking trackingdomain.Service, balance balancedomain.Service) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	engine := NewEngine()
	NewServer(Params{
		Engine:      engine,
		Cfg:         config.Config{},
		Log:         zaptest.NewLogger(t),
		TrackingSvc: tracking,
		BalanceSvc:  balance,
	})
	return engine
}

func TestStartTrackingEndpoint(t *testing.T) {
	started := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	tracking := &fakeTrackingService{session: &trackingdomain.Session{
		TrackingID: trackingdomain.TrackingID{
			BuildID:       "build-1",
			OperationType: consumptiondomain.OpMainBuild,
			OperationID:   "op-1",
		},
		StartedAt:        started,
		EstimatedSeconds: 180,
		Confidence:       estimatordomain.ConfidenceHigh,
	}}
	engine := newTestServer(t, tracking, &fakeBalanceService{})

	body := []byte(`{"user_id":"user-1","build_id":"build-1","operation_type":"main_build"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/ai-time/tracking/start", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp trackingdomain.Session
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "build-1", resp.TrackingID.BuildID)
	assert.Equal(t, int64(180), resp.EstimatedSeconds)
}

func TestStartTrackingEndpointRejectsBadBody(t *testing.T) {
	engine := newTestServer(t, &fakeTrackingService{}, &fakeBalanceService{})

	req := httptest.NewRequest(http.MethodPost, "/v1/ai-time/tracking/start", bytes.NewReader([]byte(`{"user_id":"user-1"}`)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartTrackingEndpointInsufficientBalance(t *testing.T) {
	tracking := &fakeTrackingService{err: &billing.InsufficientAITimeError{
		RequiredSeconds:  180,
		AvailableSeconds: 40,
		EstimatedSeconds: 180,
	}}
	engine := newTestServer(t, tracking, &fakeBalanceService{})

	body := []byte(`{"user_id":"user-1","build_id":"build-1","operation_type":"main_build"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/ai-time/tracking/start", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusPaymentRequired, rec.Code)

	var resp errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "insufficient_ai_time", resp.Error.Type)
}

func TestEndTrackingEndpointMapsBillingErrors(t *testing.T) {
	tracking := &fakeTrackingService{err: billing.NewError(billing.CodeInvalidTrackingID, "malformed tracking id", nil)}
	engine := newTestServer(t, tracking, &fakeBalanceService{})

	body := []byte(`{"user_id":"user-1","tracking_id":"junk","started_at":"2026-08-30T12:00:00Z"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/ai-time/tracking/end", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetBalanceEndpoint(t *testing.T) {
	balance := &fakeBalanceService{balance: &balancedomain.Balance{
		UserID: "user-1",
		TierBreakdown: billing.TierBreakdown{
			WelcomeBonusSeconds: 3600,
			DailyGiftSeconds:    1800,
		},
		TotalSeconds: 5400,
	}}
	engine := newTestServer(t, &fakeTrackingService{}, balance)

	req := httptest.NewRequest(http.MethodGet, "/v1/ai-time/balance/user-1", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp balancedomain.Balance
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(5400), resp.TotalSeconds)
	assert.Equal(t, int64(3600), resp.WelcomeBonusSeconds)
}

func TestGetBalanceEndpointUnavailableStore(t *testing.T) {
	balance := &fakeBalanceService{err: billing.NewError(billing.CodeDBNotAvailable, "balance store unavailable", nil)}
	engine := newTestServer(t, &fakeTrackingService{}, balance)

	req := httptest.NewRequest(http.MethodGet, "/v1/ai-time/balance/user-1", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestAddPurchaseEndpoint(t *testing.T) {
	balance := &fakeBalanceService{balance: &balancedomain.Balance{
		UserID: "user-1",
		TierBreakdown: billing.TierBreakdown{
			PaidSeconds: 600,
		},
		TotalSeconds: 600,
	}}
	engine := newTestServer(t, &fakeTrackingService{}, balance)

	body := []byte(`{"user_id":"user-1","minutes":10,"source":"package"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/ai-time/purchases", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestAddPurchaseEndpointInvalidSource(t *testing.T) {
	balance := &fakeBalanceService{err: balancedomain.ErrInvalidPurchaseSource}
	engine := newTestServer(t, &fakeTrackingService{}, balance)

	body := []byte(`{"user_id":"user-1","minutes":10,"source":"gift"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/ai-time/purchases", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResetDailyEndpoint(t *testing.T) {
	balance := &fakeBalanceService{resets: 42}
	engine := newTestServer(t, &fakeTrackingService{}, balance)

	req := httptest.NewRequest(http.MethodPost, "/internal/ai-time/reset-daily", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]int64
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, int64(42), resp["accounts_reset"])
}
