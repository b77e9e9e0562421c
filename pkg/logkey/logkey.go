package logkey

const (
	TraceID = "TRACE ID"
	ERROR   = "ERROR"
	UserID  = "USER ID"
	OrderID = "ORDER ID"
)
