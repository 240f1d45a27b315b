package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidPlaybook      ErrorCode = 102
	ErrCodeInvalidExpression    ErrorCode = 103
	ErrCodeInvalidCondition     ErrorCode = 104
	ErrCodeInvalidAction        ErrorCode = 105
	ErrCodeInvalidTransition    ErrorCode = 106
	ErrCodeInvalidTimeframe     ErrorCode = 107
	ErrCodeMissingParameter     ErrorCode = 108
	ErrCodeInvalidVersion       ErrorCode = 109
	ErrCodeUnknownReference     ErrorCode = 110
	ErrCodeUnknownPhase         ErrorCode = 111
	ErrCodeDuplicatePhase       ErrorCode = 112
	ErrCodeInvalidRiskConfig    ErrorCode = 113
	ErrCodeInvalidVariable      ErrorCode = 114
	ErrCodeInvalidIndicator     ErrorCode = 115
	ErrCodeInvalidTimeout       ErrorCode = 116

	// Data/Feed errors (200-299)
	ErrCodeDataNotFound    ErrorCode = 200
	ErrCodeFeedUnavailable ErrorCode = 201
	ErrCodeQueryFailed     ErrorCode = 202
	ErrCodeBarOutOfOrder   ErrorCode = 203
	ErrCodeInvalidBar      ErrorCode = 204
	ErrCodeEmptyFeed       ErrorCode = 205

	// Evaluation errors (300-399)
	ErrCodeEvalFailed        ErrorCode = 300
	ErrCodeDivisionByZero    ErrorCode = 301
	ErrCodeUnknownFunction   ErrorCode = 302
	ErrCodeIndicatorNotFound ErrorCode = 303
	ErrCodeVariableNotFound  ErrorCode = 304
	ErrCodeNoOpenTrade       ErrorCode = 305
	ErrCodeBadArity          ErrorCode = 306

	// Playbook errors (400-499)
	ErrCodePlaybookNotLoaded     ErrorCode = 400
	ErrCodePlaybookParseFailed   ErrorCode = 401
	ErrCodeMachineNotCompiled    ErrorCode = 402
	ErrCodePhaseNotFound         ErrorCode = 403
	ErrCodeSchemaVersionMismatch ErrorCode = 404

	// Trading errors (500-599)
	ErrCodeOrderRejected     ErrorCode = 500
	ErrCodePositionNotFound  ErrorCode = 501
	ErrCodeRiskLimitExceeded ErrorCode = 502
	ErrCodeInvalidLot        ErrorCode = 503

	// Backtest errors (600-699)
	ErrCodeBacktestConfigError  ErrorCode = 600
	ErrCodeBacktestInitFailed   ErrorCode = 601
	ErrCodeBacktestNoFeed       ErrorCode = 602
	ErrCodeBacktestNoResultsDir ErrorCode = 603
	ErrCodeRunNotFound          ErrorCode = 604
	ErrCodeRunStoreFailed       ErrorCode = 605

	// Sweep/Monte Carlo errors (700-799)
	ErrCodeSweepConfigError      ErrorCode = 700
	ErrCodeInvalidOverridePath   ErrorCode = 701
	ErrCodeMonteCarloConfigError ErrorCode = 702
	ErrCodeNoTrades              ErrorCode = 703
)
