package venue

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/kirillm/trade-engine/internal/domain"
)

const (
	bybitCategorySpot   = "spot"
	bybitAccountUnified = "UNIFIED"
	bybitRecvWindow     = "5000"
)

// Коды Bybit, которые имеет смысл ретраить
var bybitTransientCodes = map[int]bool{
	10002: true, // request expired / clock skew
	10006: true, // rate limit
	10016: true, // internal server error
}

// BybitVenue spot-клиент Bybit v5, реализующий ExecutionVenue
type BybitVenue struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	client     *http.Client
	recvWindow string
}

func NewBybitVenue(apiKey, apiSecret, baseURL string) *BybitVenue {
	return &BybitVenue{
		apiKey:     apiKey,
		apiSecret:  apiSecret,
		baseURL:    baseURL,
		client:     &http.Client{Timeout: 30 * time.Second},
		recvWindow: bybitRecvWindow,
	}
}

func (b *BybitVenue) Name() string { return "bybit" }

type bybitTickerResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
			Bid1Price string `json:"bid1Price"`
			Ask1Price string `json:"ask1Price"`
		} `json:"list"`
	} `json:"result"`
}

type bybitWalletResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List []struct {
			TotalEquity string `json:"totalEquity"`
			Coin        []struct {
				Coin          string `json:"coin"`
				WalletBalance string `json:"walletBalance"`
				UsdValue      string `json:"usdValue"`
			} `json:"coin"`
		} `json:"list"`
	} `json:"result"`
}

type bybitOrderResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
	} `json:"result"`
}

type bybitOrderListResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List []struct {
			OrderID     string `json:"orderId"`
			OrderStatus string `json:"orderStatus"`
			CumExecQty  string `json:"cumExecQty"`
			AvgPrice    string `json:"avgPrice"`
			UpdatedTime string `json:"updatedTime"`
		} `json:"list"`
	} `json:"result"`
}

// ExecuteOrder размещает ордер. ID ордера движка передается как orderLinkId,
// поэтому повторная отправка того же ордера отклоняется самой биржей.
func (b *BybitVenue) ExecuteOrder(ctx context.Context, order *domain.Order) (*ExecutionResult, error) {
	params := map[string]interface{}{
		"category":    bybitCategorySpot,
		"symbol":      order.Symbol,
		"side":        bybitSide(order.Side),
		"orderType":   bybitOrderType(order.Type),
		"orderLinkId": order.ID,
	}
	if order.Fractional() {
		// Spot market ордер суммой в котируемой валюте
		params["qty"] = fmt.Sprintf("%.2f", order.NotionalAmount)
		params["marketUnit"] = "quoteCoin"
	} else {
		params["qty"] = fmt.Sprintf("%.8f", order.Quantity)
	}
	if order.Type == domain.OrderTypeLimit || order.Type == domain.OrderTypeStopLimit {
		params["price"] = fmt.Sprintf("%.8f", order.LimitPrice)
	}
	if order.Type == domain.OrderTypeStop || order.Type == domain.OrderTypeStopLimit {
		params["triggerPrice"] = fmt.Sprintf("%.8f", order.StopPrice)
	}

	var orderResp bybitOrderResponse
	if err := b.post(ctx, "/v5/order/create", params, &orderResp); err != nil {
		return nil, err
	}
	if orderResp.RetCode != 0 {
		return nil, b.apiError(orderResp.RetCode, orderResp.RetMsg)
	}

	return &ExecutionResult{
		Provider:     b.Name(),
		VenueOrderID: orderResp.Result.OrderID,
		Status:       domain.StatusSubmitted,
		SubmittedAt:  time.Now(),
	}, nil
}

// OrderStatus запрашивает состояние ордера
func (b *BybitVenue) OrderStatus(ctx context.Context, venueOrderID string) (*StatusResult, error) {
	query := fmt.Sprintf("category=%s&orderId=%s", bybitCategorySpot, venueOrderID)

	var listResp bybitOrderListResponse
	if err := b.get(ctx, "/v5/order/realtime", query, true, &listResp); err != nil {
		return nil, err
	}
	if listResp.RetCode != 0 {
		return nil, b.apiError(listResp.RetCode, listResp.RetMsg)
	}
	if len(listResp.Result.List) == 0 {
		return nil, NewPermanentError(b.Name(), "not_found", fmt.Sprintf("order %s not found", venueOrderID))
	}

	entry := listResp.Result.List[0]
	result := &StatusResult{
		Provider: b.Name(),
		Status:   bybitStatusToDomain(entry.OrderStatus),
	}
	if entry.CumExecQty != "" {
		result.FilledQuantity, _ = strconv.ParseFloat(entry.CumExecQty, 64)
	}
	if entry.AvgPrice != "" {
		result.FilledAvgPrice, _ = strconv.ParseFloat(entry.AvgPrice, 64)
	}
	if ms, err := strconv.ParseInt(entry.UpdatedTime, 10, 64); err == nil && result.Status == domain.StatusFilled {
		result.FilledAt = time.UnixMilli(ms)
	}
	return result, nil
}

// CancelOrder отменяет ордер
func (b *BybitVenue) CancelOrder(ctx context.Context, venueOrderID string) (bool, error) {
	params := map[string]interface{}{
		"category": bybitCategorySpot,
		"orderId":  venueOrderID,
	}

	var orderResp bybitOrderResponse
	if err := b.post(ctx, "/v5/order/cancel", params, &orderResp); err != nil {
		return false, err
	}
	if orderResp.RetCode != 0 {
		return false, b.apiError(orderResp.RetCode, orderResp.RetMsg)
	}
	return true, nil
}

// AccountInfo возвращает сводку unified-аккаунта
func (b *BybitVenue) AccountInfo(ctx context.Context) (*AccountInfo, error) {
	query := fmt.Sprintf("accountType=%s", bybitAccountUnified)

	var walletResp bybitWalletResponse
	if err := b.get(ctx, "/v5/account/wallet-balance", query, true, &walletResp); err != nil {
		return nil, err
	}
	if walletResp.RetCode != 0 {
		return nil, b.apiError(walletResp.RetCode, walletResp.RetMsg)
	}
	if len(walletResp.Result.List) == 0 {
		return &AccountInfo{Provider: b.Name()}, nil
	}

	info := &AccountInfo{Provider: b.Name()}
	info.Equity, _ = strconv.ParseFloat(walletResp.Result.List[0].TotalEquity, 64)
	for _, coin := range walletResp.Result.List[0].Coin {
		if coin.Coin == "USDT" && coin.WalletBalance != "" {
			info.CashBalance, _ = strconv.ParseFloat(coin.WalletBalance, 64)
			info.BuyingPower = info.CashBalance
		}
	}
	return info, nil
}

// Positions представляет spot-балансы как позиции
func (b *BybitVenue) Positions(ctx context.Context) ([]Position, error) {
	query := fmt.Sprintf("accountType=%s", bybitAccountUnified)

	var walletResp bybitWalletResponse
	if err := b.get(ctx, "/v5/account/wallet-balance", query, true, &walletResp); err != nil {
		return nil, err
	}
	if walletResp.RetCode != 0 {
		return nil, b.apiError(walletResp.RetCode, walletResp.RetMsg)
	}

	var positions []Position
	for _, list := range walletResp.Result.List {
		for _, coin := range list.Coin {
			if coin.Coin == "USDT" || coin.WalletBalance == "" {
				continue
			}
			qty, _ := strconv.ParseFloat(coin.WalletBalance, 64)
			if qty <= 0 {
				continue
			}
			value, _ := strconv.ParseFloat(coin.UsdValue, 64)
			positions = append(positions, Position{
				Symbol:      coin.Coin + "USDT",
				Quantity:    qty,
				MarketValue: value,
			})
		}
	}
	return positions, nil
}

// Quote возвращает текущую котировку
func (b *BybitVenue) Quote(ctx context.Context, symbol string) (*Quote, error) {
	query := fmt.Sprintf("category=%s&symbol=%s", bybitCategorySpot, symbol)

	var tickerResp bybitTickerResponse
	if err := b.get(ctx, "/v5/market/tickers", query, false, &tickerResp); err != nil {
		return nil, err
	}
	if tickerResp.RetCode != 0 {
		return nil, b.apiError(tickerResp.RetCode, tickerResp.RetMsg)
	}
	if len(tickerResp.Result.List) == 0 || tickerResp.Result.List[0].LastPrice == "" {
		return nil, NewPermanentError(b.Name(), "no_data", fmt.Sprintf("no price data for symbol %s", symbol))
	}

	entry := tickerResp.Result.List[0]
	quote := &Quote{Symbol: symbol, At: time.Now()}
	quote.Last, _ = strconv.ParseFloat(entry.LastPrice, 64)
	quote.Bid, _ = strconv.ParseFloat(entry.Bid1Price, 64)
	quote.Ask, _ = strconv.ParseFloat(entry.Ask1Price, 64)
	if quote.Last <= 0 {
		return nil, NewPermanentError(b.Name(), "no_data", fmt.Sprintf("empty price data for symbol %s", symbol))
	}
	return quote, nil
}

// get выполняет GET-запрос, опционально подписанный
func (b *BybitVenue) get(ctx context.Context, endpoint, query string, signed bool, out interface{}) error {
	url := fmt.Sprintf("%s%s?%s", b.baseURL, endpoint, query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if signed {
		timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
		b.setAuthHeaders(req, timestamp, b.generateSignature(timestamp, query))
	}
	return b.execute(req, out)
}

// post выполняет подписанный POST-запрос
func (b *BybitVenue) post(ctx context.Context, endpoint string, params map[string]interface{}, out interface{}) error {
	jsonData, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("failed to marshal params: %w", err)
	}

	timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
	url := fmt.Sprintf("%s%s", b.baseURL, endpoint)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(jsonData)))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	b.setAuthHeaders(req, timestamp, b.generateSignature(timestamp, string(jsonData)))

	return b.execute(req, out)
}

// execute отправляет запрос и разбирает ответ. Сетевые сбои и 5xx —
// временные ошибки провайдера.
func (b *BybitVenue) execute(req *http.Request, out interface{}) error {
	resp, err := b.client.Do(req)
	if err != nil {
		return NewTransientError(b.Name(), "network", err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return NewTransientError(b.Name(), fmt.Sprintf("http_%d", resp.StatusCode), resp.Status)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return NewTransientError(b.Name(), "read", err.Error())
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// apiError классифицирует код ответа Bybit
func (b *BybitVenue) apiError(retCode int, retMsg string) error {
	code := strconv.Itoa(retCode)
	if bybitTransientCodes[retCode] {
		return NewTransientError(b.Name(), code, retMsg)
	}
	return NewPermanentError(b.Name(), code, retMsg)
}

// generateSignature подпись запроса (GET и POST)
func (b *BybitVenue) generateSignature(timestamp, payload string) string {
	message := timestamp + b.apiKey + b.recvWindow + payload
	h := hmac.New(sha256.New, []byte(b.apiSecret))
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}

// setAuthHeaders заголовки авторизации
func (b *BybitVenue) setAuthHeaders(req *http.Request, timestamp, signature string) {
	req.Header.Set("X-BAPI-API-KEY", b.apiKey)
	req.Header.Set("X-BAPI-SIGN", signature)
	req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
	req.Header.Set("X-BAPI-RECV-WINDOW", b.recvWindow)
}

func bybitSide(side string) string {
	if side == domain.SideSell {
		return "Sell"
	}
	return "Buy"
}

func bybitOrderType(orderType string) string {
	switch orderType {
	case domain.OrderTypeLimit, domain.OrderTypeStopLimit:
		return "Limit"
	default:
		return "Market"
	}
}

func bybitStatusToDomain(status string) string {
	switch status {
	case "New", "Untriggered", "Triggered":
		return domain.StatusSubmitted
	case "PartiallyFilled":
		return domain.StatusPartiallyFilled
	case "Filled":
		return domain.StatusFilled
	case "Cancelled", "PartiallyFilledCanceled":
		return domain.StatusCanceled
	case "Rejected":
		return domain.StatusRejected
	case "Deactivated", "Expired":
		return domain.StatusExpired
	default:
		return domain.StatusSubmitted
	}
}
