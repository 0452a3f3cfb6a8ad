package chat

// GatewayRequest posts a message through the HTTP gateway instead of the socket.
type GatewayRequest struct {
	UserID  string `json:"user_id"`
	Message string `json:"message"`
}

// GatewayAccepted is the gateway's acknowledgement of a queued message.
type GatewayAccepted struct {
	Status    string `json:"status"`
	MessageID string `json:"message_id"`
	Detail    string `json:"detail"`
}
