package domain

import "errors"

var (
	// ErrNotFound возвращается когда запись не найдена
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput возвращается при некорректных входных данных;
	// никогда не ретраится
	ErrInvalidInput = errors.New("invalid input")

	// ErrDataUnavailable возвращается когда нет цены или данных портфеля;
	// вызывающий может повторить позже
	ErrDataUnavailable = errors.New("data unavailable")

	// ErrCircuitBreakerOpen возвращается когда торговля заблокирована предохранителем
	ErrCircuitBreakerOpen = errors.New("circuit breaker open")

	// ErrAllProvidersExhausted возвращается когда ни один venue не принял операцию
	ErrAllProvidersExhausted = errors.New("all providers exhausted")

	// ErrTerminalState возвращается при попытке изменить ордер в конечном состоянии
	ErrTerminalState = errors.New("order is in terminal state")

	// ErrInsufficientFunds возвращается при недостаточном балансе
	ErrInsufficientFunds = errors.New("insufficient balance")
)
