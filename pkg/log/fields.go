package log

const (
	// Request
	FieldRequestID = "request_id"
	FieldMethod    = "method"
	FieldPath      = "path"
	FieldStatus    = "status"
	FieldLatency   = "latency_ms"
	FieldClientIP  = "client_ip"

	// Broadcast
	FieldSessionID  = "session_id"
	FieldProducerID = "producer_id"
	FieldTransport  = "transport_id"
	FieldConsumerID = "consumer_id"

	// Service
	FieldService = "service"
)
