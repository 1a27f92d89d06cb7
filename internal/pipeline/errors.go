package pipeline

// エラーコード一覧。HTTP 応答の code フィールドにそのまま載ります。
const (
	CodeInvalidInput       = "INVALID_INPUT"
	CodeLimitExceeded      = "LIMIT_EXCEEDED"
	CodeInvalidRange       = "INVALID_RANGE"
	CodeInsufficientInputs = "INSUFFICIENT_INPUTS"
	CodeEngineFailure      = "ENGINE_FAILURE"
	CodeGenerationBlocked  = "GENERATION_BLOCKED"
	CodeGenerationEmpty    = "GENERATION_EMPTY"
	CodeConfigMissing      = "CONFIG_MISSING"
	CodePermissionDenied   = "PERMISSION_DENIED"
	CodeJobNotFound        = "JOB_NOT_FOUND"
)

// Error は利用者に提示できる処理エラーです。Message は画面表示用、
// Err は内部ログ用の原因です。
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}
