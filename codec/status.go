package codec

// Response and status codes used by the engine.
const (
	CodeOK                  = 200
	CodeBadRequest          = 400
	CodeForbidden           = 403
	CodeTimeout             = 408
	CodeStopSending         = 413
	CodeUnsupportedMedia    = 415
	CodeIntervalOutOfBounds = 423
	CodeNicknameFailed      = 424
	CodeNicknameInUse       = 425
	CodePrivateNotAllowed   = 428
	CodeNoSession           = 481
	CodeUnknownMethod       = 501
	CodeWrongConnection     = 506
)

// StatusNamespace is the namespace used in Status headers of REPORT requests.
const StatusNamespace = 0

var statusText = map[int]string{
	CodeOK:                  "OK",
	CodeBadRequest:          "Bad Request",
	CodeForbidden:           "Forbidden",
	CodeTimeout:             "Request Timeout",
	CodeStopSending:         "Stop Sending Message",
	CodeUnsupportedMedia:    "Unsupported Media Type",
	CodeIntervalOutOfBounds: "Interval Out Of Bounds",
	CodeNicknameFailed:      "Nickname Usage Failed",
	CodeNicknameInUse:       "Nickname Reserved Or Already In Use",
	CodePrivateNotAllowed:   "Private Messages Not Allowed",
	CodeNoSession:           "Session Does Not Exist",
	CodeUnknownMethod:       "Method Not Understood",
	CodeWrongConnection:     "Session Bound To Another Connection",
}

// StatusText returns the default comment for a code, or "" if unknown.
func StatusText(code int) string {
	return statusText[code]
}

// IsSuccess reports whether code is a 2xx code.
func IsSuccess(code int) bool {
	return code >= 200 && code < 300
}
