package rpc

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/chainsafe/token-ledger/pkg/auth"
)

// Server handles JSON-RPC 2.0 requests over HTTP
type Server struct {
	handler *MethodHandler
	jwt     *auth.JWTValidator
	logger  *zap.Logger
}

// NewServer creates a new JSON-RPC server
func NewServer(handler *MethodHandler, jwt *auth.JWTValidator, logger *zap.Logger) *Server {
	return &Server{
		handler: handler,
		jwt:     jwt,
		logger:  logger,
	}
}

// methods that mutate ledger state and therefore require an
// authenticated caller identity
var authenticatedMethods = map[string]bool{
	"erc20_transfer":     true,
	"erc20_transferFrom": true,
	"erc20_approve":      true,
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeResponse(w, ErrorResponse(nil, NewError(ParseError, err.Error())))
		return
	}

	if err := req.Validate(); err != nil {
		s.writeResponse(w, ErrorResponse(req.ID, NewError(InvalidRequest, err.Error())))
		return
	}

	ctx := r.Context()
	if authenticatedMethods[req.Method] {
		caller, rpcErr := s.authenticate(r)
		if rpcErr != nil {
			s.writeResponse(w, ErrorResponse(req.ID, rpcErr))
			return
		}
		ctx = auth.WithCaller(ctx, caller)
	}

	resp := s.handler.Handle(ctx, &req)
	s.writeResponse(w, resp)
}

// authenticate resolves the caller identity from the transport layer.
// It accepts either an EIP-191 personal_sign proof (X-Signature and
// X-Message headers) or a bearer token with an "address" claim. The
// caller address is never taken from request parameters.
func (s *Server) authenticate(r *http.Request) (common.Address, *Error) {
	signature := r.Header.Get("X-Signature")
	message := r.Header.Get("X-Message")
	if signature != "" && message != "" {
		addr, err := auth.VerifyEIP191Signature(message, signature)
		if err != nil {
			s.logger.Warn("signature verification failed", zap.Error(err))
			return common.Address{}, NewError(Unauthorized, "invalid signature")
		}
		return addr, nil
	}

	authHeader := r.Header.Get("Authorization")
	if authHeader != "" && s.jwt != nil && s.jwt.IsConfigured() {
		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			return common.Address{}, NewError(Unauthorized, "malformed authorization header")
		}
		claims, err := s.jwt.ValidateToken(token)
		if err != nil {
			s.logger.Warn("token validation failed", zap.Error(err))
			return common.Address{}, NewError(Unauthorized, "invalid token")
		}
		addr, ok := claims["address"].(string)
		if !ok || !auth.ValidateAddress(addr) {
			return common.Address{}, NewError(Unauthorized, "token carries no caller address")
		}
		return common.HexToAddress(addr), nil
	}

	return common.Address{}, NewError(Unauthorized, "authentication required")
}

func (s *Server) writeResponse(w http.ResponseWriter, resp *Response) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}
