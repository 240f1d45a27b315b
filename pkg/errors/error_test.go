package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/suite"
)

type ErrorTestSuite struct {
	suite.Suite
}

func TestErrorSuite(t *testing.T) {
	suite.Run(t, new(ErrorTestSuite))
}

func (suite *ErrorTestSuite) TestNewError() {
	err := New(ErrCodeInvalidParameter, "invalid parameter")
	suite.NotNil(err)
	suite.Equal(ErrCodeInvalidParameter, err.Code)
	suite.Equal("invalid parameter", err.Message)
	suite.Nil(err.Cause)
}

func (suite *ErrorTestSuite) TestNewfError() {
	err := Newf(ErrCodePhaseNotFound, "phase %q not found", "entry")
	suite.NotNil(err)
	suite.Equal(ErrCodePhaseNotFound, err.Code)
	suite.Equal(`phase "entry" not found`, err.Message)
	suite.Nil(err.Cause)
}

func (suite *ErrorTestSuite) TestWrapError() {
	cause := errors.New("underlying error")
	err := Wrap(ErrCodeDataNotFound, "data not found", cause)
	suite.NotNil(err)
	suite.Equal(ErrCodeDataNotFound, err.Code)
	suite.Equal("data not found", err.Message)
	suite.Equal(cause, err.Cause)
}

func (suite *ErrorTestSuite) TestWrapfError() {
	cause := errors.New("underlying error")
	err := Wrapf(ErrCodeQueryFailed, cause, "failed to load bars for %s", "EURUSD")
	suite.NotNil(err)
	suite.Equal(ErrCodeQueryFailed, err.Code)
	suite.Equal("failed to load bars for EURUSD", err.Message)
	suite.Equal(cause, err.Cause)
}

func (suite *ErrorTestSuite) TestErrorString() {
	err := New(ErrCodeInvalidParameter, "invalid parameter")
	suite.Equal("[100] invalid parameter", err.Error())
}

func (suite *ErrorTestSuite) TestErrorStringWithCause() {
	cause := errors.New("underlying error")
	err := Wrap(ErrCodeDataNotFound, "data not found", cause)
	suite.Equal("[200] data not found: underlying error", err.Error())
}

func (suite *ErrorTestSuite) TestUnwrap() {
	cause := errors.New("underlying error")
	err := Wrap(ErrCodeDataNotFound, "data not found", cause)
	suite.Equal(cause, err.Unwrap())
}

func (suite *ErrorTestSuite) TestUnwrapNil() {
	err := New(ErrCodeInvalidParameter, "invalid parameter")
	suite.Nil(err.Unwrap())
}

func (suite *ErrorTestSuite) TestGetCode() {
	err := New(ErrCodeInvalidParameter, "invalid parameter")
	suite.Equal(ErrCodeInvalidParameter, GetCode(err))
}

func (suite *ErrorTestSuite) TestGetCodeFromWrapped() {
	cause := New(ErrCodeDataNotFound, "data not found")
	err := Wrap(ErrCodeBacktestInitFailed, "backtest init failed", cause)
	// GetCode should return the outermost error's code
	suite.Equal(ErrCodeBacktestInitFailed, GetCode(err))
}

func (suite *ErrorTestSuite) TestGetCodeFromPlainError() {
	err := errors.New("standard error")
	suite.Equal(ErrCodeUnknown, GetCode(err))
}

func (suite *ErrorTestSuite) TestHasCode() {
	err := New(ErrCodeInvalidParameter, "invalid parameter")
	suite.True(HasCode(err, ErrCodeInvalidParameter))
	suite.False(HasCode(err, ErrCodeDataNotFound))
}

func (suite *ErrorTestSuite) TestIsError() {
	cause := errors.New("underlying error")
	err := Wrap(ErrCodeDataNotFound, "data not found", cause)
	suite.True(Is(err, cause))
}

func (suite *ErrorTestSuite) TestAsError() {
	err := New(ErrCodeInvalidParameter, "invalid parameter")
	var structured *Error
	suite.True(As(err, &structured))
	suite.Equal(ErrCodeInvalidParameter, structured.Code)
}

func (suite *ErrorTestSuite) TestErrorCodeValues() {
	// Verify some key error codes have expected values
	suite.Equal(ErrorCode(1), ErrCodeUnknown)
	suite.Equal(ErrorCode(100), ErrCodeInvalidParameter)
	suite.Equal(ErrorCode(200), ErrCodeDataNotFound)
	suite.Equal(ErrorCode(300), ErrCodeEvalFailed)
	suite.Equal(ErrorCode(400), ErrCodePlaybookNotLoaded)
	suite.Equal(ErrorCode(500), ErrCodeOrderRejected)
	suite.Equal(ErrorCode(600), ErrCodeBacktestConfigError)
	suite.Equal(ErrorCode(700), ErrCodeSweepConfigError)
}

func (suite *ErrorTestSuite) TestEvalError() {
	err := &EvalError{
		Code:    ErrCodeDivisionByZero,
		Expr:    "var.x / var.y",
		Ref:     "var.y",
		Message: "division by zero",
	}
	suite.Equal(`division by zero in "var.x / var.y"`, err.Error())
	suite.Equal(ErrCodeDivisionByZero, err.Code)
	suite.Equal("var.x / var.y", err.Expr)
	suite.Equal("var.y", err.Ref)
}

func (suite *ErrorTestSuite) TestNewEvalError() {
	err := NewEvalError(ErrCodeIndicatorNotFound, "ind.rsi14.value < 30", "ind.rsi14.value", "indicator not ready")
	suite.NotNil(err)
	suite.Equal(ErrCodeIndicatorNotFound, err.Code)
	suite.Equal("ind.rsi14.value < 30", err.Expr)
	suite.Equal("ind.rsi14.value", err.Ref)
	suite.Equal("indicator not ready", err.Message)
}

func (suite *ErrorTestSuite) TestNewEvalErrorf() {
	err := NewEvalErrorf(ErrCodeBadArity, "round(1.5)", "", "round expects %d arguments, got %d", 2, 1)
	suite.NotNil(err)
	suite.Equal(ErrCodeBadArity, err.Code)
	suite.Equal("round(1.5)", err.Expr)
	suite.Equal("round expects 2 arguments, got 1", err.Message)
}

func (suite *ErrorTestSuite) TestEvalErrorWithoutExpr() {
	err := NewEvalError(ErrCodeNoOpenTrade, "", "trade.pnl", "no open trade")
	suite.Equal("no open trade", err.Error())
}

func (suite *ErrorTestSuite) TestIsEvalError() {
	// Test with EvalError
	evalErr := NewEvalError(ErrCodeDivisionByZero, "1/0", "", "division by zero")
	suite.True(IsEvalError(evalErr))

	// Test with standard error
	stdErr := errors.New("standard error")
	suite.False(IsEvalError(stdErr))

	// Test with *Error type
	codeErr := New(ErrCodeInvalidParameter, "invalid parameter")
	suite.False(IsEvalError(codeErr))

	// Test with nil
	suite.False(IsEvalError(nil))
}

func (suite *ErrorTestSuite) TestIsEvalErrorWrapped() {
	evalErr := NewEvalError(ErrCodeVariableNotFound, "var.missing", "var.missing", "unknown variable")
	wrapped := Wrap(ErrCodeEvalFailed, "condition evaluation failed", evalErr)
	suite.True(IsEvalError(wrapped))

	extracted, ok := AsEvalError(wrapped)
	suite.True(ok)
	suite.Equal(ErrCodeVariableNotFound, extracted.Code)
}

func (suite *ErrorTestSuite) TestAsEvalErrorMiss() {
	_, ok := AsEvalError(errors.New("plain"))
	suite.False(ok)
}
