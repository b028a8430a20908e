package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/hookline/hookline/internal/server/jwt"
	"github.com/hookline/hookline/pkg/api"
)

// AuthHandler mints consumer tokens for the pub/sub endpoint. Consumers
// self-identify; the token binds the chosen consumer id to the websocket
// connection for the registry and hub.
type AuthHandler struct {
	logger    *slog.Logger
	jwtConfig jwt.Config
}

// NewAuthHandler creates the token handler.
func NewAuthHandler(logger *slog.Logger, jwtConfig jwt.Config) *AuthHandler {
	return &AuthHandler{
		logger:    logger,
		jwtConfig: jwtConfig,
	}
}

// HandleToken handles POST /api/v1/auth/token.
func (h *AuthHandler) HandleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	var req api.TokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("Failed to decode token request", "error", err)
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	consumerID := req.ConsumerID
	if consumerID == "" {
		consumerID = uuid.New().String()
	}

	token, expiresIn, err := jwt.GenerateConsumerToken(h.jwtConfig, consumerID)
	if err != nil {
		h.logger.Error("Failed to generate consumer token", "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, "token_failed", "failed to generate token")
		return
	}

	h.logger.Info("Issued consumer token", "consumer_id", consumerID)

	resp := api.TokenResponse{
		AccessToken: token,
		ExpiresIn:   expiresIn,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.logger.Error("Failed to encode token response", "error", err)
	}
}
