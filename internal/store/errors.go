package store

import (
	"errors"
	"fmt"
)

// 取引エラーコード
const (
	CodeTransactionTooOld   = 1007
	CodeFutureVersion       = 1009
	CodeNotCommitted        = 1020
	CodeCommitUnknownResult = 1021
	CodeTransactionTimedOut = 1031
	CodeProcessBehind       = 1037
	CodeOperationCancelled  = 1101
	CodeInternalError       = 4100
)

var codeNames = map[int]string{
	CodeTransactionTooOld:   "transaction_too_old",
	CodeFutureVersion:       "future_version",
	CodeNotCommitted:        "not_committed",
	CodeCommitUnknownResult: "commit_unknown_result",
	CodeTransactionTimedOut: "transaction_timed_out",
	CodeProcessBehind:       "process_behind",
	CodeOperationCancelled:  "operation_cancelled",
	CodeInternalError:       "internal_error",
}

// Error はストアが返す取引エラー
type Error struct {
	Code int
	Msg  string
}

// NewError はコードからエラーを作る
func NewError(code int) *Error {
	return &Error{Code: code}
}

func (e *Error) Error() string {
	name := CodeName(e.Code)
	if e.Msg != "" {
		return fmt.Sprintf("%s (%d): %s", name, e.Code, e.Msg)
	}
	return fmt.Sprintf("%s (%d)", name, e.Code)
}

// Is はコードが同じなら一致とみなす
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// CodeName はコードの名前を返す
func CodeName(code int) string {
	if name, ok := codeNames[code]; ok {
		return name
	}
	return "unknown_error"
}

// Code はエラーからコードを取り出す。ストアのエラーでなければ 0
func Code(err error) int {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// IsRetryable は OnError がリトライを許すコードかを返す
func IsRetryable(err error) bool {
	switch Code(err) {
	case CodeTransactionTooOld, CodeFutureVersion, CodeNotCommitted,
		CodeCommitUnknownResult, CodeProcessBehind:
		return true
	default:
		return false
	}
}

// IsCommitUnknown はコミット結果が不明なエラーかを返す
func IsCommitUnknown(err error) bool {
	return Code(err) == CodeCommitUnknownResult
}
