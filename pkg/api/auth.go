package api

// TokenRequest asks the server to mint a consumer token for the pub/sub
// endpoint. The request itself is authenticated with the shared secret.
type TokenRequest struct {
	ConsumerID string `json:"consumer_id"`
}

// TokenResponse carries the signed consumer token.
type TokenResponse struct {
	AccessToken string `json:"access_token"` // JWT
	ExpiresIn   int64  `json:"expires_in"`   // seconds
}

// ErrorResponse is the generic error body returned by HTTP endpoints.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
