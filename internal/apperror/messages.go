package apperror

var messages = map[Code]string{
	CodeInvalidInput:       "Invalid input provided",
	CodeInvalidState:       "Invalid state for this operation",
	CodeNotFound:           "Resource not found",
	CodeValidationError:    "Validation error",
	CodeConfigurationError: "Configuration error",
	CodeInternalError:      "Internal error",
	CodeUnknownError:       "An unknown error occurred",

	CodeExternalServiceError: "External service error",
	CodeServiceTimeout:       "Service request timeout",
	CodeServiceUnavailable:   "Service temporarily unavailable",
	CodeRateLimitExceeded:    "Rate limit exceeded",
	CodeExchangeAPIError:     "Exchange API error",
	CodeExchangeConnection:   "Failed to reach exchange",
	CodeWebSocketConnection:  "WebSocket connection error",
	CodeWebSocketClosed:      "WebSocket connection closed",
	CodeCircuitOpen:          "Circuit breaker is open",

	CodeDataUnavailable:  "Order book data unavailable",
	CodeInvalidOrderbook: "Invalid order book data",
	CodeInvalidPath:      "Malformed triangular path",
	CodeInvalidTradeSize: "Trade size outside configured bounds",

	CodeInsufficientBalance: "Insufficient balance for execution",
	CodeExecutionInProgress: "Another execution is in flight for this account",
	CodeSlippageExceeded:    "Quote moved beyond slippage tolerance",
	CodeOrderTimeout:        "Order fill not observed before timeout",
	CodeOrderRejected:       "Order rejected by exchange",
	CodeRollbackFailure:     "Compensating order failed; manual reconciliation required",

	CodeStorageError: "Storage operation failed",
	CodeLockHeld:     "Lock is held by another owner",
}
