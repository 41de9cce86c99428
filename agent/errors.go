package agent

import (
	"errors"
	"fmt"

	"datachat/dbpool"
)

// Kind classifies a turn failure. Every error surfaced by the pipeline
// carries exactly one kind so callers can map it to a transport status
// without string matching.
type Kind string

const (
	KindInvalidRequest        Kind = "InvalidRequest"
	KindNotFound              Kind = "NotFound"
	KindSessionBusy           Kind = "SessionBusy"
	KindCancelled             Kind = "Cancelled"
	KindSqlEmpty              Kind = "SqlEmpty"
	KindSqlNotReadOnly        Kind = "SqlNotReadOnly"
	KindSqlMultiStatement     Kind = "SqlMultiStatement"
	KindLengthExceeded        Kind = "LengthExceeded"
	KindSyntaxError           Kind = "SyntaxError"
	KindPermissionDenied      Kind = "PermissionDenied"
	KindUnknownIdentifier     Kind = "UnknownIdentifier"
	KindQueryTimeout          Kind = "QueryTimeout"
	KindConnectionLost        Kind = "ConnectionLost"
	KindDataSourceUnreachable Kind = "DataSourceUnreachable"
	KindModelRejected         Kind = "ModelRejected"
	KindModelUnavailable      Kind = "ModelUnavailable"
	KindModelUnsupported      Kind = "ModelUnsupported"
	KindInternal              Kind = "Internal"
)

// PipelineError 统一的管道错误类型：阶段 + 分类 + 原始错误
type PipelineError struct {
	Kind  Kind
	Stage string // pipeline stage that failed
	Err   error
}

// Error 返回格式化的错误信息：[stage] kind: message
func (e *PipelineError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("[%s] %s", e.Stage, e.Kind)
	}
	return fmt.Sprintf("[%s] %s: %v", e.Stage, e.Kind, e.Err)
}

// Unwrap 返回原始错误，支持 errors.Is/errors.As 链式查询
func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Fail wraps err with a stage and kind. Returns nil when err is nil and the
// kind carries no signal of its own.
func Fail(stage string, kind Kind, err error) error {
	if err == nil && kind == KindInternal {
		return nil
	}
	return &PipelineError{Kind: kind, Stage: stage, Err: err}
}

// KindOf extracts the kind from an error chain, defaulting to Internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindInternal
}

// kindFromErrClass maps a driver error class onto a turn failure kind.
func kindFromErrClass(class dbpool.ErrClass) Kind {
	switch class {
	case dbpool.ClassSyntax:
		return KindSyntaxError
	case dbpool.ClassPermission:
		return KindPermissionDenied
	case dbpool.ClassUnknownIdent:
		return KindUnknownIdentifier
	case dbpool.ClassTimeout:
		return KindQueryTimeout
	case dbpool.ClassConnLost:
		return KindConnectionLost
	default:
		return KindInternal
	}
}
