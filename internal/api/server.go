package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/kirillm/trade-engine/internal/breaker"
	"github.com/kirillm/trade-engine/internal/domain"
	"github.com/kirillm/trade-engine/internal/execution"
	"github.com/kirillm/trade-engine/internal/risk"
	"github.com/kirillm/trade-engine/internal/scheduler"
	"github.com/kirillm/trade-engine/internal/storage"
	"github.com/kirillm/trade-engine/internal/strategy"
	"github.com/kirillm/trade-engine/internal/venue"
	"github.com/kirillm/trade-engine/pkg/utils"
)

// StrategyFactory собирает набор стратегий для нового цикла автоторговли
type StrategyFactory func() []strategy.Strategy

type Server struct {
	logger     *utils.Logger
	storage    *storage.PostgresStorage
	executor   *execution.Executor
	riskSvc    *risk.Service
	limits     *risk.LimitStore
	breaker    *breaker.CircuitBreaker
	gateway    *venue.Gateway
	registry   *scheduler.Registry
	strategies StrategyFactory
	port       int
}

type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

type SubmitOrderRequest struct {
	ID             string  `json:"id"`
	AccountID      string  `json:"account_id"`
	Symbol         string  `json:"symbol"`
	Side           string  `json:"side"`
	Type           string  `json:"type"`
	Quantity       float64 `json:"quantity"`
	NotionalAmount float64 `json:"notional_amount"`
	LimitPrice     float64 `json:"limit_price"`
	StopPrice      float64 `json:"stop_price"`
}

type BreakerResetRequest struct {
	Type  string `json:"type"`
	Scope string `json:"scope"`
}

type ProfileRequest struct {
	Name string `json:"name"`
}

func NewServer(
	logger *utils.Logger,
	storage *storage.PostgresStorage,
	executor *execution.Executor,
	riskSvc *risk.Service,
	limits *risk.LimitStore,
	cb *breaker.CircuitBreaker,
	gateway *venue.Gateway,
	registry *scheduler.Registry,
	strategies StrategyFactory,
	port int,
) *Server {
	return &Server{
		logger:     logger,
		storage:    storage,
		executor:   executor,
		riskSvc:    riskSvc,
		limits:     limits,
		breaker:    cb,
		gateway:    gateway,
		registry:   registry,
		strategies: strategies,
		port:       port,
	}
}

func (s *Server) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/orders", s.handleOrders)
	mux.HandleFunc("/orders/submit", s.handleSubmitOrder)
	mux.HandleFunc("/orders/cancel", s.handleCancelOrder)
	mux.HandleFunc("/orders/events", s.handleOrderEvents)
	mux.HandleFunc("/risk/metrics", s.handleRiskMetrics)
	mux.HandleFunc("/risk/profiles", s.handleProfiles)
	mux.HandleFunc("/risk/profile", s.handleSwitchProfile)
	mux.HandleFunc("/breakers", s.handleBreakerStatus)
	mux.HandleFunc("/breakers/reset", s.handleBreakerReset)
	mux.HandleFunc("/autotrade/start", s.handleAutotradeStart)
	mux.HandleFunc("/autotrade/stop", s.handleAutotradeStop)
	mux.HandleFunc("/autotrade/status", s.handleAutotradeStatus)
	mux.HandleFunc("/gateway/health", s.handleGatewayHealth)

	addr := fmt.Sprintf(":%d", s.port)
	s.logger.Info("Starting HTTP server on %s", addr)

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return server.ListenAndServe()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	dbStatus := "healthy"
	if err := s.storage.DB().PingContext(r.Context()); err != nil {
		dbStatus = fmt.Sprintf("unhealthy: %v", err)
	}

	s.sendSuccess(w, map[string]interface{}{
		"status":    "running",
		"database":  dbStatus,
		"timestamp": time.Now().Unix(),
	})
}

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	accountID := getQueryParam(r, "account", "")
	if accountID == "" {
		s.sendError(w, "account is required", http.StatusBadRequest)
		return
	}
	limit := getQueryParamInt(r, "limit", 50)

	orders, err := s.storage.Orders.GetRecent(r.Context(), accountID, limit)
	if err != nil {
		s.sendError(w, fmt.Sprintf("Failed to get orders: %v", err), http.StatusInternalServerError)
		return
	}
	s.sendSuccess(w, orders)
}

func (s *Server) handleSubmitOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req SubmitOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	order := &domain.Order{
		ID:             req.ID,
		AccountID:      req.AccountID,
		Symbol:         req.Symbol,
		Side:           req.Side,
		Type:           req.Type,
		Quantity:       req.Quantity,
		NotionalAmount: req.NotionalAmount,
		LimitPrice:     req.LimitPrice,
		StopPrice:      req.StopPrice,
		Reason:         "manual",
	}

	submitted, err := s.executor.Submit(r.Context(), order)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, domain.ErrInvalidInput):
			status = http.StatusBadRequest
		case errors.Is(err, domain.ErrCircuitBreakerOpen),
			errors.Is(err, execution.ErrRiskBlocked),
			errors.Is(err, execution.ErrRiskReduce):
			status = http.StatusConflict
		}
		s.sendError(w, err.Error(), status)
		return
	}
	s.sendSuccess(w, submitted)
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := getQueryParam(r, "id", "")
	if id == "" {
		s.sendError(w, "id is required", http.StatusBadRequest)
		return
	}

	order, err := s.executor.Cancel(r.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, domain.ErrNotFound):
			status = http.StatusNotFound
		case errors.Is(err, domain.ErrTerminalState):
			status = http.StatusConflict
		}
		s.sendError(w, err.Error(), status)
		return
	}
	s.sendSuccess(w, order)
}

func (s *Server) handleOrderEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id := getQueryParam(r, "id", "")
	if id == "" {
		s.sendError(w, "id is required", http.StatusBadRequest)
		return
	}

	events, err := s.storage.Orders.GetEvents(r.Context(), id)
	if err != nil {
		s.sendError(w, fmt.Sprintf("Failed to get events: %v", err), http.StatusInternalServerError)
		return
	}
	s.sendSuccess(w, events)
}

func (s *Server) handleRiskMetrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	accountID := getQueryParam(r, "account", "")
	if accountID == "" {
		s.sendError(w, "account is required", http.StatusBadRequest)
		return
	}

	metrics, err := s.riskSvc.PortfolioRiskMetrics(r.Context(), accountID)
	if err != nil {
		s.sendError(w, fmt.Sprintf("Failed to get risk metrics: %v", err), http.StatusInternalServerError)
		return
	}
	s.sendSuccess(w, metrics)
}

func (s *Server) handleProfiles(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.sendSuccess(w, map[string]interface{}{
		"profiles": s.limits.Profiles(),
		"current":  s.limits.Snapshot(),
	})
}

func (s *Server) handleSwitchProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req ProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if err := s.limits.SwitchProfile(req.Name); err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.logger.Info("risk profile switched to %s", req.Name)
	s.sendSuccess(w, map[string]string{"profile": req.Name})
}

func (s *Server) handleBreakerStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.sendSuccess(w, map[string]interface{}{
		"states": s.breaker.Status(),
		"regime": s.breaker.VolatilityRegime(),
	})
}

func (s *Server) handleBreakerReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req BreakerResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, fmt.Sprintf("Invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if req.Scope == "" {
		req.Scope = domain.ScopeGlobal
	}

	if !s.breaker.Reset(req.Type, req.Scope) {
		s.sendError(w, fmt.Sprintf("breaker %s/%s is not open", req.Type, req.Scope), http.StatusNotFound)
		return
	}
	s.logger.Info("breaker %s/%s reset manually", req.Type, req.Scope)
	s.sendSuccess(w, map[string]string{"type": req.Type, "scope": req.Scope})
}

func (s *Server) handleAutotradeStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	accountID := getQueryParam(r, "account", "")
	if accountID == "" {
		s.sendError(w, "account is required", http.StatusBadRequest)
		return
	}

	loop, err := s.registry.Start(accountID, s.strategies()...)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusConflict)
		return
	}
	s.sendSuccess(w, map[string]interface{}{
		"account":    accountID,
		"strategies": loop.Strategies(),
	})
}

func (s *Server) handleAutotradeStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	accountID := getQueryParam(r, "account", "")
	if accountID == "" {
		s.sendError(w, "account is required", http.StatusBadRequest)
		return
	}

	if err := s.registry.Stop(accountID); err != nil {
		s.sendError(w, err.Error(), http.StatusNotFound)
		return
	}
	s.sendSuccess(w, map[string]string{"account": accountID})
}

func (s *Server) handleAutotradeStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.sendSuccess(w, map[string]interface{}{"running": s.registry.Running()})
}

func (s *Server) handleGatewayHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.sendSuccess(w, s.gateway.Health())
}

func (s *Server) sendSuccess(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(Response{
		Success: true,
		Data:    data,
	})
}

func (s *Server) sendError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(Response{
		Success: false,
		Error:   message,
	})
}

func getQueryParam(r *http.Request, key string, defaultValue string) string {
	if value := r.URL.Query().Get(key); value != "" {
		return value
	}
	return defaultValue
}

func getQueryParamInt(r *http.Request, key string, defaultValue int) int {
	if value := r.URL.Query().Get(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
