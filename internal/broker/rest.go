package broker

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	apperrors "efriend-trader/internal/errors"
	"efriend-trader/internal/market"
	"efriend-trader/internal/models"
	"efriend-trader/pkg/utils"
)

// RESTConfig holds the open API connection settings.
type RESTConfig struct {
	BaseURL   string
	AppKey    string
	AppSecret string
	Timeout   time.Duration
	// Paper selects the VTS transaction ids; BaseURL must point at the VTS gateway.
	Paper bool
}

// RESTBroker implements Broker against the broker's open API gateway.
type RESTBroker struct {
	client *resty.Client
	cfg    RESTConfig
	logger zerolog.Logger
}

// trID is a transaction id pair: live and VTS.
type trID struct {
	live  string
	paper string
}

var (
	trDomesticBuy       = trID{"TTTC0802U", "VTTC0802U"}
	trDomesticSell      = trID{"TTTC0801U", "VTTC0801U"}
	trDomesticCancel    = trID{"TTTC0803U", "VTTC0803U"}
	trDomesticOrders    = trID{"TTTC8001R", "VTTC8001R"}
	trDomesticBalance   = trID{"TTTC8434R", "VTTC8434R"}
	trOverseasBuy       = trID{"JTTT1002U", "VTTT1002U"}
	trOverseasSell      = trID{"JTTT1006U", "VTTT1001U"}
	trOverseasCancel    = trID{"JTTT1004U", "VTTT1004U"}
	trOverseasOrders    = trID{"JTTT3001R", "VTTS3035R"}
	trOverseasBalance   = trID{"JTTT3012R", "VTTS3012R"}
	trOverseasPresent   = trID{"CTRP6504R", "VTRP6504R"}
	trDomesticChart     = trID{"FHKST03010200", "FHKST03010200"}
	trDomesticSpread    = trID{"FHKST01010200", "FHKST01010200"}
	trDomesticDaily     = trID{"FHKST01010400", "FHKST01010400"}
	trOverseasChart     = trID{"HHDFS76950200", "HHDFS76950200"}
	trOverseasSpread    = trID{"HHDFS76200100", "HHDFS76200100"}
	trOverseasDailyBars = trID{"HHDFS76240000", "HHDFS76240000"}
)

// Token error codes of the gateway.
var expiredTokenCodes = map[string]bool{
	"EGW00121": true, // invalid token
	"EGW00123": true, // expired token
}

// quotationExchanges maps order exchange codes to quotation exchange codes.
var quotationExchanges = map[string]string{
	"NASD": "NAS",
	"NYSE": "NYS",
	"AMEX": "AMS",
	"SEHK": "HKS",
	"SHAA": "SHS",
	"SZAA": "SZS",
	"TKSE": "TSE",
	"HASE": "HNX",
	"VNSE": "HSX",
}

// NewRESTBroker creates a broker client. Requests are never retried here:
// reads are retried by callers, writes must not be retried blindly.
func NewRESTBroker(cfg RESTConfig, logger zerolog.Logger) *RESTBroker {
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json; charset=utf-8").
		SetHeader("appkey", cfg.AppKey).
		SetHeader("appsecret", cfg.AppSecret).
		SetHeader("custtype", "P")

	return &RESTBroker{
		client: client,
		cfg:    cfg,
		logger: logger.With().Str("component", "rest_broker").Logger(),
	}
}

type envelope struct {
	RtCd  string `json:"rt_cd"`
	MsgCd string `json:"msg_cd"`
	Msg1  string `json:"msg1"`
}

func (e *envelope) header() *envelope { return e }

type enveloped interface {
	header() *envelope
}

func (b *RESTBroker) tr(id trID) string {
	if b.cfg.Paper {
		return id.paper
	}
	return id.live
}

// do executes one gateway call and maps the response envelope to errors.
func (b *RESTBroker) do(ctx context.Context, method, path, tr string, sess *models.Session, query map[string]string, body any, out enveloped) error {
	r := b.client.R().
		SetContext(ctx).
		SetResult(out).
		SetError(out)
	if tr != "" {
		r.SetHeader("tr_id", tr)
	}
	if sess != nil {
		r.SetAuthToken(sess.Token)
	}
	if query != nil {
		r.SetQueryParams(query)
	}
	if body != nil {
		r.SetBody(body)
	}

	resp, err := r.Execute(method, path)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s %s: %w: %v", method, path, apperrors.ErrBrokerUnavailable, err)
	}

	h := out.header()
	switch {
	case resp.StatusCode() == http.StatusUnauthorized || expiredTokenCodes[h.MsgCd]:
		return apperrors.NewBrokerError(h.MsgCd, h.Msg1, apperrors.ErrSessionExpired)
	case h.RtCd != "" && h.RtCd != "0":
		return apperrors.NewBrokerError(h.MsgCd, h.Msg1, nil)
	case resp.StatusCode() >= http.StatusInternalServerError:
		return apperrors.NewBrokerError(strconv.Itoa(resp.StatusCode()), resp.Status(), apperrors.ErrBrokerUnavailable)
	case resp.IsError():
		return apperrors.NewBrokerError(strconv.Itoa(resp.StatusCode()), resp.Status(), nil)
	}
	return nil
}

type tokenResponse struct {
	envelope
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	ExpiredAt   string `json:"access_token_token_expired"`
	ErrorCode   string `json:"error_code"`
	ErrorDesc   string `json:"error_description"`
}

// Authenticate requests an access token for the app key.
func (b *RESTBroker) Authenticate(ctx context.Context, creds market.Credentials) (*AuthResult, error) {
	var out tokenResponse
	body := map[string]string{
		"grant_type": "client_credentials",
		"appkey":     b.cfg.AppKey,
		"appsecret":  b.cfg.AppSecret,
	}
	if err := b.do(ctx, http.MethodPost, "/oauth2/tokenP", "", nil, nil, body, &out); err != nil {
		var be *apperrors.BrokerError
		if apperrors.As(err, &be) {
			return nil, apperrors.NewBrokerError(be.Code, be.Message, apperrors.ErrAuthentication)
		}
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, apperrors.NewBrokerError(out.ErrorCode, out.ErrorDesc, apperrors.ErrAuthentication)
	}

	expiresAt, err := time.ParseInLocation("2006-01-02 15:04:05", out.ExpiredAt, utils.SeoulLocation)
	if err != nil {
		expiresAt = time.Now().Add(time.Duration(out.ExpiresIn) * time.Second)
	}

	b.logger.Debug().
		Str("account", creds.CANO).
		Time("expires_at", expiresAt).
		Msg("Access token issued")

	return &AuthResult{Token: out.AccessToken, ExpiresAt: expiresAt, IsPaper: b.cfg.Paper}, nil
}

type orderResponse struct {
	envelope
	Output struct {
		OrgNo   string `json:"KRX_FWDG_ORD_ORGNO"`
		ODNO    string `json:"ODNO"`
		OrdTime string `json:"ORD_TMD"`
	} `json:"output"`
}

// PlaceOrder submits a cash order.
func (b *RESTBroker) PlaceOrder(ctx context.Context, sess *models.Session, payload market.OrderPayload) (*OrderResult, error) {
	path := "/uapi/domestic-stock/v1/trading/order-cash"
	id := trDomesticBuy
	if payload.Side == models.OrderSideSell {
		id = trDomesticSell
	}
	if payload.Market == models.Overseas {
		path = "/uapi/overseas-stock/v1/trading/order"
		id = trOverseasBuy
		if payload.Side == models.OrderSideSell {
			id = trOverseasSell
		}
	}

	var out orderResponse
	if err := b.do(ctx, http.MethodPost, path, b.tr(id), sess, nil, payload.Fields, &out); err != nil {
		return nil, err
	}
	return &OrderResult{OrderNum: out.Output.ODNO, OrderTime: out.Output.OrdTime}, nil
}

// CancelOrder cancels payload.Count shares of an open order.
func (b *RESTBroker) CancelOrder(ctx context.Context, sess *models.Session, payload market.CancelPayload) error {
	body := make(map[string]string, len(payload.Fields)+4)
	for k, v := range payload.Fields {
		body[k] = v
	}

	path := "/uapi/domestic-stock/v1/trading/order-rvsecncl"
	id := trDomesticCancel
	if payload.Market == models.Overseas {
		path = "/uapi/overseas-stock/v1/trading/order-rvsecncl"
		id = trOverseasCancel
		body["OVRS_ORD_UNPR"] = "0"
	} else {
		body["KRX_FWDG_ORD_ORGNO"] = ""
		body["ORD_DVSN"] = market.DivisionLimit
		body["ORD_UNPR"] = "0"
		body["QTY_ALL_ORD_YN"] = "N"
	}

	var out orderResponse
	return b.do(ctx, http.MethodPost, path, b.tr(id), sess, nil, body, &out)
}

type domesticOrdersResponse struct {
	envelope
	Output1 []struct {
		OrdDt      string `json:"ord_dt"`
		ODNO       string `json:"odno"`
		OrgnODNO   string `json:"orgn_odno"`
		SllBuyDvsn string `json:"sll_buy_dvsn_cd"`
		PDNO       string `json:"pdno"`
		PrdtName   string `json:"prdt_name"`
		OrdQty     string `json:"ord_qty"`
		OrdUnpr    string `json:"ord_unpr"`
		CcldQty    string `json:"tot_ccld_qty"`
		AvgPrvs    string `json:"avg_prvs"`
		RmnQty     string `json:"rmn_qty"`
		CnclYn     string `json:"cncl_yn"`
		RjctQty    string `json:"rjct_qty"`
	} `json:"output1"`
}

type overseasOrdersResponse struct {
	envelope
	Output []struct {
		OrdDt      string `json:"ord_dt"`
		ODNO       string `json:"odno"`
		OrgnODNO   string `json:"orgn_odno"`
		SllBuyDvsn string `json:"sll_buy_dvsn_cd"`
		PDNO       string `json:"pdno"`
		PrdtName   string `json:"prdt_name"`
		OrdQty     string `json:"ft_ord_qty"`
		OrdUnpr    string `json:"ft_ord_unpr3"`
		CcldQty    string `json:"ft_ccld_qty"`
		CcldUnpr   string `json:"ft_ccld_unpr3"`
		NccsQty    string `json:"nccs_qty"`
		ExcgCd     string `json:"ovrs_excg_cd"`
		RjctRson   string `json:"rjct_rson"`
		PrcsStat   string `json:"prcs_stat_name"`
	} `json:"output"`
}

// ListOrders lists the account's orders in the filter's date range.
func (b *RESTBroker) ListOrders(ctx context.Context, sess *models.Session, filter market.OrderFilter) ([]OrderRecord, error) {
	cano, prdt := splitAccount(sess.Account)

	if sess.Market == models.Overseas {
		query := map[string]string{
			"CANO":           cano,
			"ACNT_PRDT_CD":   prdt,
			"PDNO":           "%",
			"ORD_STRT_DT":    filter.StartDate,
			"ORD_END_DT":     filter.EndDate,
			"SLL_BUY_DVSN":   "00",
			"CCLD_NCCS_DVSN": statusDivision(filter.Status),
			"OVRS_EXCG_CD":   filter.MarketCode,
			"SORT_SQN":       "AS",
			"ORD_DT":         "",
			"ORD_GNO_BRNO":   "",
			"ODNO":           "",
			"CTX_AREA_NK200": "",
			"CTX_AREA_FK200": "",
		}
		var out overseasOrdersResponse
		if err := b.do(ctx, http.MethodGet, "/uapi/overseas-stock/v1/trading/inquire-ccnl", b.tr(trOverseasOrders), sess, query, nil, &out); err != nil {
			return nil, err
		}
		records := make([]OrderRecord, 0, len(out.Output))
		for _, o := range out.Output {
			rec := OrderRecord{
				OrderNum:       o.ODNO,
				OriginOrderNum: o.OrgnODNO,
				MarketCode:     o.ExcgCd,
				ProductCode:    o.PDNO,
				ProductName:    o.PrdtName,
				Side:           sideFromDivision(o.SllBuyDvsn),
				Count:          atoi(o.OrdQty),
				Executed:       atoi(o.CcldQty),
				Remaining:      atoi(o.NccsQty),
				Price:          market.ParsePrice(o.OrdUnpr),
				ExecutedPrice:  market.ParsePrice(o.CcldUnpr),
				OrderDate:      o.OrdDt,
			}
			rec.Status = recordStatus(rec, o.RjctRson != "", strings.Contains(o.PrcsStat, "취소"))
			records = append(records, rec)
		}
		return records, nil
	}

	query := map[string]string{
		"CANO":            cano,
		"ACNT_PRDT_CD":    prdt,
		"INQR_STRT_DT":    filter.StartDate,
		"INQR_END_DT":     filter.EndDate,
		"SLL_BUY_DVSN_CD": "00",
		"INQR_DVSN":       "01", // ascending
		"PDNO":            "",
		"CCLD_DVSN":       statusDivision(filter.Status),
		"ORD_GNO_BRNO":    "",
		"ODNO":            "",
		"INQR_DVSN_3":     "00",
		"INQR_DVSN_1":     "",
		"CTX_AREA_FK100":  "",
		"CTX_AREA_NK100":  "",
	}
	var out domesticOrdersResponse
	if err := b.do(ctx, http.MethodGet, "/uapi/domestic-stock/v1/trading/inquire-daily-ccld", b.tr(trDomesticOrders), sess, query, nil, &out); err != nil {
		return nil, err
	}
	records := make([]OrderRecord, 0, len(out.Output1))
	for _, o := range out.Output1 {
		rec := OrderRecord{
			OrderNum:       o.ODNO,
			OriginOrderNum: o.OrgnODNO,
			ProductCode:    o.PDNO,
			ProductName:    o.PrdtName,
			Side:           sideFromDivision(o.SllBuyDvsn),
			Count:          atoi(o.OrdQty),
			Executed:       atoi(o.CcldQty),
			Remaining:      atoi(o.RmnQty),
			Price:          market.ParsePrice(o.OrdUnpr),
			ExecutedPrice:  market.ParsePrice(o.AvgPrvs),
			OrderDate:      o.OrdDt,
		}
		rec.Status = recordStatus(rec, atoi(o.RjctQty) > 0, o.CnclYn == "Y")
		records = append(records, rec)
	}
	return records, nil
}

type domesticBalanceResponse struct {
	envelope
	Output1 []struct {
		PDNO     string `json:"pdno"`
		PrdtName string `json:"prdt_name"`
		HldgQty  string `json:"hldg_qty"`
		Prpr     string `json:"prpr"`
	} `json:"output1"`
	Output2 []struct {
		DncaTotAmt string `json:"dnca_tot_amt"`
	} `json:"output2"`
}

type overseasBalanceResponse struct {
	envelope
	Output1 []struct {
		PDNO     string `json:"ovrs_pdno"`
		ItemName string `json:"ovrs_item_name"`
		CblcQty  string `json:"ovrs_cblc_qty"`
		NowPric  string `json:"now_pric2"`
	} `json:"output1"`
}

type presentBalanceResponse struct {
	envelope
	Output2 []struct {
		CrcyCd       string `json:"crcy_cd"`
		FrcrDnclAmt  string `json:"frcr_dncl_amt_2"`
		FrstBltnExrt string `json:"frst_bltn_exrt"`
	} `json:"output2"`
}

func (b *RESTBroker) domesticBalance(ctx context.Context, sess *models.Session) (*domesticBalanceResponse, error) {
	cano, prdt := splitAccount(sess.Account)
	query := map[string]string{
		"CANO":                  cano,
		"ACNT_PRDT_CD":          prdt,
		"AFHR_FLPR_YN":          "N",
		"OFL_YN":                "",
		"INQR_DVSN":             "02",
		"UNPR_DVSN":             "01",
		"FUND_STTL_ICLD_YN":     "N",
		"FNCG_AMT_AUTO_RDPT_YN": "N",
		"PRCS_DVSN":             "00",
		"CTX_AREA_FK100":        "",
		"CTX_AREA_NK100":        "",
	}
	var out domesticBalanceResponse
	if err := b.do(ctx, http.MethodGet, "/uapi/domestic-stock/v1/trading/inquire-balance", b.tr(trDomesticBalance), sess, query, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (b *RESTBroker) presentBalance(ctx context.Context, sess *models.Session) (*presentBalanceResponse, error) {
	cano, prdt := splitAccount(sess.Account)
	query := map[string]string{
		"CANO":              cano,
		"ACNT_PRDT_CD":      prdt,
		"WCRC_FRCR_DVSN_CD": "02",
		"NATN_CD":           "840",
		"TR_MKET_CD":        "00",
		"INQR_DVSN_CD":      "00",
	}
	var out presentBalanceResponse
	if err := b.do(ctx, http.MethodGet, "/uapi/overseas-stock/v1/trading/inquire-present-balance", b.tr(trOverseasPresent), sess, query, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetDeposit returns the cash deposit in the session market's currency.
func (b *RESTBroker) GetDeposit(ctx context.Context, sess *models.Session) (decimal.Decimal, error) {
	if sess.Market == models.Overseas {
		out, err := b.presentBalance(ctx, sess)
		if err != nil {
			return decimal.Zero, err
		}
		for _, o := range out.Output2 {
			if o.CrcyCd == "USD" {
				return market.ParsePrice(o.FrcrDnclAmt), nil
			}
		}
		return decimal.Zero, nil
	}

	out, err := b.domesticBalance(ctx, sess)
	if err != nil {
		return decimal.Zero, err
	}
	if len(out.Output2) == 0 {
		return decimal.Zero, nil
	}
	return market.ParsePrice(out.Output2[0].DncaTotAmt), nil
}

// GetHoldings returns the account's positions.
func (b *RESTBroker) GetHoldings(ctx context.Context, sess *models.Session, marketCode string) ([]Holding, error) {
	if sess.Market == models.Overseas {
		cano, prdt := splitAccount(sess.Account)
		query := map[string]string{
			"CANO":           cano,
			"ACNT_PRDT_CD":   prdt,
			"OVRS_EXCG_CD":   marketCode,
			"TR_CRCY_CD":     "USD",
			"CTX_AREA_FK200": "",
			"CTX_AREA_NK200": "",
		}
		var out overseasBalanceResponse
		if err := b.do(ctx, http.MethodGet, "/uapi/overseas-stock/v1/trading/inquire-balance", b.tr(trOverseasBalance), sess, query, nil, &out); err != nil {
			return nil, err
		}
		holdings := make([]Holding, 0, len(out.Output1))
		for _, o := range out.Output1 {
			holdings = append(holdings, Holding{
				ProductCode: o.PDNO,
				ProductName: o.ItemName,
				Count:       atoi(o.CblcQty),
				Current:     market.ParsePrice(o.NowPric),
			})
		}
		return holdings, nil
	}

	out, err := b.domesticBalance(ctx, sess)
	if err != nil {
		return nil, err
	}
	holdings := make([]Holding, 0, len(out.Output1))
	for _, o := range out.Output1 {
		holdings = append(holdings, Holding{
			ProductCode: o.PDNO,
			ProductName: o.PrdtName,
			Count:       atoi(o.HldgQty),
			Current:     market.ParsePrice(o.Prpr),
		})
	}
	return holdings, nil
}

type domesticChartResponse struct {
	envelope
	Output2 []struct {
		Date   string `json:"stck_bsop_date"`
		Time   string `json:"stck_cntg_hour"`
		Prpr   string `json:"stck_prpr"`
		Oprc   string `json:"stck_oprc"`
		Hgpr   string `json:"stck_hgpr"`
		Lwpr   string `json:"stck_lwpr"`
		Vol    string `json:"cntg_vol"`
		AcmlTr string `json:"acml_tr_pbmn"`
	} `json:"output2"`
}

type overseasChartResponse struct {
	envelope
	Output2 []struct {
		Xymd string `json:"xymd"`
		Xhms string `json:"xhms"`
		Last string `json:"last"`
		Open string `json:"open"`
		High string `json:"high"`
		Low  string `json:"low"`
		Evol string `json:"evol"`
		Eamt string `json:"eamt"`
	} `json:"output2"`
}

// GetChart returns intraday bars, oldest first.
func (b *RESTBroker) GetChart(ctx context.Context, sess *models.Session, req market.QuoteRequest) ([]models.ChartPoint, error) {
	if req.Market == models.Overseas {
		minutes := req.Interval / 60
		if minutes < 1 {
			minutes = 1
		}
		query := map[string]string{
			"AUTH": "",
			"EXCD": quotationExchanges[req.MarketCode],
			"SYMB": req.ProductCode,
			"NMIN": strconv.Itoa(minutes),
			"PINC": "1",
			"NEXT": "",
			"NREC": "120",
			"FILL": "",
			"KEYB": "",
		}
		var out overseasChartResponse
		if err := b.do(ctx, http.MethodGet, "/uapi/overseas-price/v1/quotations/inquire-time-itemchartprice", b.tr(trOverseasChart), sess, query, nil, &out); err != nil {
			return nil, err
		}
		points := make([]models.ChartPoint, 0, len(out.Output2))
		for i := len(out.Output2) - 1; i >= 0; i-- {
			o := out.Output2[i]
			points = append(points, models.ChartPoint{
				ExecutedDate: o.Xymd,
				ExecutedTime: o.Xhms,
				Current:      market.ParsePrice(o.Last),
				Minimum:      market.ParsePrice(o.Low),
				Maximum:      market.ParsePrice(o.High),
				Opening:      market.ParsePrice(o.Open),
				Volume:       atoi64(o.Evol),
				TotalVolume:  atoi64(o.Eamt),
			})
		}
		return points, nil
	}

	query := map[string]string{
		"FID_ETC_CLS_CODE":       "",
		"FID_COND_MRKT_DIV_CODE": "J",
		"FID_INPUT_ISCD":         req.ProductCode,
		"FID_INPUT_HOUR_1":       utils.Now().Format("150405"),
		"FID_PW_DATA_INCU_YN":    "N",
	}
	var out domesticChartResponse
	if err := b.do(ctx, http.MethodGet, "/uapi/domestic-stock/v1/quotations/inquire-time-itemchartprice", b.tr(trDomesticChart), sess, query, nil, &out); err != nil {
		return nil, err
	}
	points := make([]models.ChartPoint, 0, len(out.Output2))
	for i := len(out.Output2) - 1; i >= 0; i-- {
		o := out.Output2[i]
		points = append(points, models.ChartPoint{
			ExecutedDate: o.Date,
			ExecutedTime: o.Time,
			Current:      market.ParsePrice(o.Prpr),
			Minimum:      market.ParsePrice(o.Lwpr),
			Maximum:      market.ParsePrice(o.Hgpr),
			Opening:      market.ParsePrice(o.Oprc),
			Volume:       atoi64(o.Vol),
			TotalVolume:  atoi64(o.AcmlTr),
		})
	}
	return points, nil
}

type spreadResponse struct {
	envelope
	Output1 map[string]string `json:"output1"`
	Output2 map[string]string `json:"output2"`
}

// GetSpread returns the ten-level ask/bid ladder.
func (b *RESTBroker) GetSpread(ctx context.Context, sess *models.Session, req market.QuoteRequest) (*models.SpreadQuote, error) {
	var out spreadResponse
	quote := &models.SpreadQuote{ProductCode: req.ProductCode}

	if req.Market == models.Overseas {
		query := map[string]string{
			"AUTH": "",
			"EXCD": quotationExchanges[req.MarketCode],
			"SYMB": req.ProductCode,
		}
		if err := b.do(ctx, http.MethodGet, "/uapi/overseas-price/v1/quotations/inquire-asking-price", b.tr(trOverseasSpread), sess, query, nil, &out); err != nil {
			return nil, err
		}
		f := out.Output2
		quote.AcceptedTime = out.Output1["dhms"]
		for i := 1; i <= 10; i++ {
			n := strconv.Itoa(i)
			quote.Asks = append(quote.Asks, models.AskBid{Price: market.ParsePrice(f["pask"+n]), Count: atoi64(f["vask"+n])})
			quote.Bids = append(quote.Bids, models.AskBid{Price: market.ParsePrice(f["pbid"+n]), Count: atoi64(f["vbid"+n])})
		}
		for _, a := range quote.Asks {
			quote.TotalAskCount += a.Count
		}
		for _, bid := range quote.Bids {
			quote.TotalBidCount += bid.Count
		}
		return quote, nil
	}

	query := map[string]string{
		"FID_COND_MRKT_DIV_CODE": "J",
		"FID_INPUT_ISCD":         req.ProductCode,
	}
	if err := b.do(ctx, http.MethodGet, "/uapi/domestic-stock/v1/quotations/inquire-asking-price-exp-ccn", b.tr(trDomesticSpread), sess, query, nil, &out); err != nil {
		return nil, err
	}
	f := out.Output1
	quote.AcceptedTime = f["aspr_acpt_hour"]
	quote.TotalAskCount = atoi64(f["total_askp_rsqn"])
	quote.TotalBidCount = atoi64(f["total_bidp_rsqn"])
	quote.TotalAskCountIcdc = atoi64(f["total_askp_rsqn_icdc"])
	quote.TotalBidCountIcdc = atoi64(f["total_bidp_rsqn_icdc"])
	for i := 1; i <= 10; i++ {
		n := strconv.Itoa(i)
		quote.Asks = append(quote.Asks, models.AskBid{
			Price: market.ParsePrice(f["askp"+n]),
			Count: atoi64(f["askp_rsqn"+n]),
			Icdc:  atoi64(f["askp_rsqn_icdc"+n]),
		})
		quote.Bids = append(quote.Bids, models.AskBid{
			Price: market.ParsePrice(f["bidp"+n]),
			Count: atoi64(f["bidp_rsqn"+n]),
			Icdc:  atoi64(f["bidp_rsqn_icdc"+n]),
		})
	}
	return quote, nil
}

type domesticDailyResponse struct {
	envelope
	Output []struct {
		Date string `json:"stck_bsop_date"`
		Oprc string `json:"stck_oprc"`
		Hgpr string `json:"stck_hgpr"`
		Lwpr string `json:"stck_lwpr"`
		Clpr string `json:"stck_clpr"`
		Vol  string `json:"acml_vol"`
	} `json:"output"`
}

type overseasDailyResponse struct {
	envelope
	Output2 []struct {
		Xymd string `json:"xymd"`
		Clos string `json:"clos"`
		Open string `json:"open"`
		High string `json:"high"`
		Low  string `json:"low"`
		Tvol string `json:"tvol"`
	} `json:"output2"`
}

// GetHistory returns daily bars, newest first.
func (b *RESTBroker) GetHistory(ctx context.Context, sess *models.Session, req market.QuoteRequest) ([]models.ProductHistory, error) {
	if req.Market == models.Overseas {
		query := map[string]string{
			"AUTH": "",
			"EXCD": quotationExchanges[req.MarketCode],
			"SYMB": req.ProductCode,
			"GUBN": "0",
			"BYMD": "",
			"MODP": "1",
		}
		var out overseasDailyResponse
		if err := b.do(ctx, http.MethodGet, "/uapi/overseas-price/v1/quotations/dailyprice", b.tr(trOverseasDailyBars), sess, query, nil, &out); err != nil {
			return nil, err
		}
		history := make([]models.ProductHistory, 0, len(out.Output2))
		for _, o := range out.Output2 {
			history = append(history, models.ProductHistory{
				StandardDate: o.Xymd,
				Minimum:      market.ParsePrice(o.Low),
				Maximum:      market.ParsePrice(o.High),
				Opening:      market.ParsePrice(o.Open),
				Closing:      market.ParsePrice(o.Clos),
				Volume:       atoi64(o.Tvol),
			})
		}
		return history, nil
	}

	query := map[string]string{
		"FID_COND_MRKT_DIV_CODE": "J",
		"FID_INPUT_ISCD":         req.ProductCode,
		"FID_PERIOD_DIV_CODE":    "D",
		"FID_ORG_ADJ_PRC":        "1",
	}
	var out domesticDailyResponse
	if err := b.do(ctx, http.MethodGet, "/uapi/domestic-stock/v1/quotations/inquire-daily-price", b.tr(trDomesticDaily), sess, query, nil, &out); err != nil {
		return nil, err
	}
	history := make([]models.ProductHistory, 0, len(out.Output))
	for _, o := range out.Output {
		history = append(history, models.ProductHistory{
			StandardDate: o.Date,
			Minimum:      market.ParsePrice(o.Lwpr),
			Maximum:      market.ParsePrice(o.Hgpr),
			Opening:      market.ParsePrice(o.Oprc),
			Closing:      market.ParsePrice(o.Clpr),
			Volume:       atoi64(o.Vol),
		})
	}
	return history, nil
}

// GetExchangeRate returns the first published KRW per USD rate of the day.
func (b *RESTBroker) GetExchangeRate(ctx context.Context, sess *models.Session) (decimal.Decimal, error) {
	out, err := b.presentBalance(ctx, sess)
	if err != nil {
		return decimal.Zero, err
	}
	for _, o := range out.Output2 {
		if o.CrcyCd == "USD" {
			return market.ParsePrice(o.FrstBltnExrt), nil
		}
	}
	return decimal.Zero, apperrors.NewBrokerError("", "no USD exchange rate in balance response", nil)
}

func splitAccount(account string) (cano, prdt string) {
	f := market.AccountFields("", account)
	return f.CANO, f.ProductCode
}

func statusDivision(s market.StatusFilter) string {
	switch s {
	case market.StatusProcessed:
		return "01"
	case market.StatusUnprocessed:
		return "02"
	default:
		return "00"
	}
}

func sideFromDivision(code string) models.OrderSide {
	if code == "01" {
		return models.OrderSideSell
	}
	return models.OrderSideBuy
}

func recordStatus(rec OrderRecord, rejected, cancelled bool) OrderStatus {
	switch {
	case rejected:
		return StatusRejected
	case rec.Remaining > 0 && !cancelled:
		return StatusOpen
	case rec.Executed > 0:
		return StatusFilled
	default:
		return StatusCancelled
	}
}

func atoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}

func atoi64(s string) int64 {
	n, _ := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	return n
}
