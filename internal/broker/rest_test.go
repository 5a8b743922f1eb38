package broker

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "efriend-trader/internal/errors"
	"efriend-trader/internal/market"
	"efriend-trader/internal/models"
)

func newTestREST(t *testing.T, handler http.HandlerFunc) *RESTBroker {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewRESTBroker(RESTConfig{
		BaseURL:   srv.URL,
		AppKey:    "key",
		AppSecret: "secret",
		Timeout:   time.Second,
		Paper:     true,
	}, zerolog.Nop())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var testSession = &models.Session{Account: "5005775101", Market: models.Domestic, Token: "tok"}

func TestRESTBroker_Authenticate(t *testing.T) {
	b := newTestREST(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/oauth2/tokenP", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":               "abc",
			"expires_in":                 86400,
			"access_token_token_expired": "2030-01-02 09:00:00",
		})
	})

	res, err := b.Authenticate(context.Background(), market.Credentials{Market: models.Domestic, Account: "5005775101", CANO: "50057751", ProductCode: "01", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, "abc", res.Token)
	assert.True(t, res.IsPaper)
	assert.Equal(t, 2030, res.ExpiresAt.Year())
}

func TestRESTBroker_AuthenticateFailure(t *testing.T) {
	b := newTestREST(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusForbidden, map[string]any{
			"error_code":        "EGW00103",
			"error_description": "유효하지 않은 AppKey입니다.",
		})
	})

	_, err := b.Authenticate(context.Background(), market.Credentials{Market: models.Domestic})
	assert.ErrorIs(t, err, apperrors.ErrAuthentication)
}

func TestRESTBroker_PlaceOrderUsesPaperTransaction(t *testing.T) {
	b := newTestREST(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/uapi/domestic-stock/v1/trading/order-cash", r.URL.Path)
		assert.Equal(t, "VTTC0802U", r.Header.Get("tr_id"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "005930", body["PDNO"])

		writeJSON(w, http.StatusOK, map[string]any{
			"rt_cd":  "0",
			"msg_cd": "APBK0013",
			"msg1":   "주문 전송 완료 되었습니다.",
			"output": map[string]string{"ODNO": "0000117057", "ORD_TMD": "121052"},
		})
	})

	res, err := b.PlaceOrder(context.Background(), testSession, market.OrderPayload{
		Market: models.Domestic,
		Side:   models.OrderSideBuy,
		Fields: map[string]string{"PDNO": "005930", "ORD_QTY": "1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "0000117057", res.OrderNum)
}

func TestRESTBroker_EnvelopeErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   map[string]any
		target error
		code   string
	}{
		{"rejection", http.StatusOK, map[string]any{"rt_cd": "1", "msg_cd": "APBK0952", "msg1": "주문가능금액을 초과 했습니다"}, nil, "APBK0952"},
		{"expired token", http.StatusInternalServerError, map[string]any{"rt_cd": "1", "msg_cd": "EGW00123", "msg1": "기간이 만료된 token 입니다."}, apperrors.ErrSessionExpired, "EGW00123"},
		{"gateway down", http.StatusBadGateway, map[string]any{}, apperrors.ErrBrokerUnavailable, "502"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestREST(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			})
			_, err := b.GetDeposit(context.Background(), testSession)
			require.Error(t, err)
			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}
			code, _ := apperrors.Reason(err)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestRESTBroker_ListOrders(t *testing.T) {
	b := newTestREST(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "00", r.URL.Query().Get("CCLD_DVSN"))
		assert.Equal(t, "50057751", r.URL.Query().Get("CANO"))
		writeJSON(w, http.StatusOK, map[string]any{
			"rt_cd": "0",
			"output1": []map[string]string{
				{"odno": "1", "pdno": "005930", "sll_buy_dvsn_cd": "02", "ord_qty": "10", "tot_ccld_qty": "0", "rmn_qty": "10", "ord_unpr": "60000", "ord_dt": "20240515"},
				{"odno": "2", "pdno": "005930", "sll_buy_dvsn_cd": "01", "ord_qty": "5", "tot_ccld_qty": "5", "rmn_qty": "0", "avg_prvs": "70000", "ord_dt": "20240515"},
				{"odno": "3", "pdno": "005930", "sll_buy_dvsn_cd": "02", "ord_qty": "3", "tot_ccld_qty": "0", "rmn_qty": "0", "cncl_yn": "Y", "ord_dt": "20240515"},
			},
		})
	})

	recs, err := b.ListOrders(context.Background(), testSession, market.OrderFilter{Status: market.StatusAll, StartDate: "20240515", EndDate: "20240515"})
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, StatusOpen, recs[0].Status)
	assert.Equal(t, models.OrderSideBuy, recs[0].Side)
	assert.Equal(t, StatusFilled, recs[1].Status)
	assert.Equal(t, models.OrderSideSell, recs[1].Side)
	assert.Equal(t, StatusCancelled, recs[2].Status)
}
