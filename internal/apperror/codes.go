package apperror

// Code identifies an error class across the application.
type Code string

// General codes
const (
	CodeInvalidInput       Code = "INVALID_INPUT"
	CodeInvalidState       Code = "INVALID_STATE"
	CodeNotFound           Code = "NOT_FOUND"
	CodeValidationError    Code = "VALIDATION_ERROR"
	CodeConfigurationError Code = "CONFIGURATION_ERROR"
	CodeInternalError      Code = "INTERNAL_ERROR"
	CodeUnknownError       Code = "UNKNOWN_ERROR"
)

// External service codes
const (
	CodeExternalServiceError Code = "EXTERNAL_SERVICE_ERROR"
	CodeServiceTimeout       Code = "SERVICE_TIMEOUT"
	CodeServiceUnavailable   Code = "SERVICE_UNAVAILABLE"
	CodeRateLimitExceeded    Code = "RATE_LIMIT_EXCEEDED"
	CodeExchangeAPIError     Code = "EXCHANGE_API_ERROR"
	CodeExchangeConnection   Code = "EXCHANGE_CONNECTION_FAILED"
	CodeWebSocketConnection  Code = "WEBSOCKET_CONNECTION_ERROR"
	CodeWebSocketClosed      Code = "WEBSOCKET_CLOSED"
	CodeCircuitOpen          Code = "CIRCUIT_OPEN"
)

// Market data and evaluation codes
const (
	CodeDataUnavailable  Code = "DATA_UNAVAILABLE"
	CodeInvalidOrderbook Code = "INVALID_ORDERBOOK"
	CodeInvalidPath      Code = "INVALID_PATH"
	CodeInvalidTradeSize Code = "INVALID_TRADE_SIZE"
)

// Execution codes
const (
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"
	CodeExecutionInProgress Code = "EXECUTION_IN_PROGRESS"
	CodeSlippageExceeded    Code = "SLIPPAGE_EXCEEDED"
	CodeOrderTimeout        Code = "ORDER_TIMEOUT"
	CodeOrderRejected       Code = "ORDER_REJECTED"
	CodeRollbackFailure     Code = "ROLLBACK_FAILURE"
)

// Storage codes
const (
	CodeStorageError Code = "STORAGE_ERROR"
	CodeLockHeld     Code = "LOCK_HELD"
)
