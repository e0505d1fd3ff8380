package server

// Response is the envelope of every API answer.
type Response struct {
	Code    int         `json:"code"`    // 0 on success
	Message string      `json:"message"` // human readable status
	Data    interface{} `json:"data"`    // payload
}

const (
	CodeOK          = 0
	CodeBadRequest  = 400
	CodeNotFound    = 404
	CodeRejected    = 409
	CodeServerError = 500
)

// Success wraps data in a success envelope.
func Success(data interface{}) Response {
	return Response{
		Code:    CodeOK,
		Message: "success",
		Data:    data,
	}
}

// Error builds a failure envelope without data.
func Error(code int, message string) Response {
	return Response{
		Code:    code,
		Message: message,
		Data:    nil,
	}
}

// ErrorWithData builds a failure envelope that still carries data.
func ErrorWithData(code int, message string, data interface{}) Response {
	return Response{
		Code:    code,
		Message: message,
		Data:    data,
	}
}
