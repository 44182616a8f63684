package export

// Code is a terminal status code. Server mode writes it as the HTTP status.
type Code int

// Status codes shared by every component and dispatcher.
const (
	CodeOK                   Code = 200
	CodeBadRequest           Code = 400
	CodeRequestError         Code = 401
	CodeTooManyWindows       Code = 402
	CodeInvalidRoute         Code = 404
	CodeJSONParse            Code = 422
	CodeClientClosed         Code = 499
	CodeInternal             Code = 500
	CodeRunnerError          Code = 501
	CodeWindowMissing        Code = 504
	CodeSocketTimeout        Code = 522
	CodeRendererError        Code = 525
	CodeRendererIncompatible Code = 526
	CodeConvertError         Code = 530
)

// Aggregate batch codes.
const (
	BatchOK     Code = 0
	BatchFailed Code = 1
)

var statusText = map[Code]string{
	CodeOK:                   "pong",
	CodeBadRequest:           "invalid or malformed request syntax",
	CodeRequestError:         "error during request",
	CodeTooManyWindows:       "too many windows are opened",
	CodeInvalidRoute:         "invalid route",
	CodeJSONParse:            "json parse error",
	CodeClientClosed:         "client closed request before generation complete",
	CodeInternal:             "internal server error",
	CodeRunnerError:          "runner error",
	CodeWindowMissing:        "window for given route does not exist",
	CodeSocketTimeout:        "client socket timeout",
	CodeRendererError:        "plotly.js error",
	CodeRendererIncompatible: "plotly.js version incompatible",
	CodeConvertError:         "image conversion error",
}

var batchText = map[Code]string{
	BatchOK:     "all task(s) completed",
	BatchFailed: "failed or incomplete task(s)",
}

// StatusText returns the fixed message for code, or "" if unknown.
func StatusText(code Code) string {
	return statusText[code]
}

// BatchText returns the aggregate message for a batch exit code.
func BatchText(code Code) string {
	return batchText[code]
}

// HTTPStatus clamps a code into the range net/http accepts.
func (c Code) HTTPStatus() int {
	if c < 100 || c > 999 {
		return int(CodeInternal)
	}
	return int(c)
}
