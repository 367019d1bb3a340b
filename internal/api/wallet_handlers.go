package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/better-wallet/custody-wallets/internal/app"
	"github.com/better-wallet/custody-wallets/internal/chains"
	"github.com/better-wallet/custody-wallets/internal/logger"
	apperrors "github.com/better-wallet/custody-wallets/pkg/errors"
	"github.com/better-wallet/custody-wallets/pkg/types"
)

// ProvisionWalletRequest asks for the wallet of a chain's family.
type ProvisionWalletRequest struct {
	ChainID chains.Identifier `json:"chain_id"`
}

// ListWalletsResponse wraps the wallet list.
type ListWalletsResponse struct {
	Data []types.WalletView `json:"data"`
}

// ListTransfersResponse wraps a wallet's recorded transfers.
type ListTransfersResponse struct {
	Data []*types.Transfer `json:"data"`
}

// SignMessageRequest carries the message to sign. Encoding is "utf8"
// (default) or "hex".
type SignMessageRequest struct {
	Message  string            `json:"message"`
	Encoding string            `json:"encoding,omitempty"`
	ChainID  chains.Identifier `json:"chain_id,omitempty"`
}

// SendTransactionRequest describes a native transfer. Amount is in whole
// units; Data is 0x-prefixed calldata (EVM only).
type SendTransactionRequest struct {
	To      string            `json:"to"`
	Amount  string            `json:"amount"`
	Data    string            `json:"data,omitempty"`
	ChainID chains.Identifier `json:"chain_id,omitempty"`
}

func (s *Server) handleProvisionWallet(w http.ResponseWriter, r *http.Request) {
	var req ProvisionWalletRequest
	if !s.decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.ChainID.String()) == "" {
		s.writeError(w, apperrors.BadRequest("chain_id is required"))
		return
	}

	wallet, err := s.walletService.Provision(r.Context(), strings.TrimSpace(req.ChainID.String()))
	if err != nil {
		s.handleError(w, r, err)
		return
	}

	status := http.StatusOK
	if wallet.IsNew {
		status = http.StatusCreated
	}
	s.writeJSON(w, status, wallet)
}

func (s *Server) handleListWallets(w http.ResponseWriter, r *http.Request) {
	wallets, err := s.walletService.ListWallets(r.Context())
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	if wallets == nil {
		wallets = []types.WalletView{}
	}
	s.writeJSON(w, http.StatusOK, ListWalletsResponse{Data: wallets})
}

func (s *Server) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := s.walletService.GetWallet(r.Context(), r.PathValue("id"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, wallet)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := s.walletService.GetBalance(r.Context(), r.PathValue("id"), r.URL.Query().Get("chain_id"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, balance)
}

func (s *Server) handleSignMessage(w http.ResponseWriter, r *http.Request) {
	var req SignMessageRequest
	if !s.decode(w, r, &req) {
		return
	}

	var message []byte
	switch strings.ToLower(req.Encoding) {
	case "", "utf8", "utf-8":
		message = []byte(req.Message)
	case "hex":
		decoded, err := hexutil.Decode(req.Message)
		if err != nil {
			s.writeError(w, apperrors.BadRequest("message is not valid 0x-prefixed hex"))
			return
		}
		message = decoded
	default:
		s.writeError(w, apperrors.BadRequest("encoding must be utf8 or hex"))
		return
	}
	if len(message) == 0 {
		s.writeError(w, apperrors.BadRequest("message is required"))
		return
	}

	sig, err := s.walletService.SignMessage(r.Context(), r.PathValue("id"), message, req.ChainID.String())
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sig)
}

func (s *Server) handleSendTransaction(w http.ResponseWriter, r *http.Request) {
	var req SendTransactionRequest
	if !s.decode(w, r, &req) {
		return
	}

	var data []byte
	if req.Data != "" {
		decoded, err := hexutil.Decode(req.Data)
		if err != nil {
			s.writeError(w, apperrors.BadRequest("data is not valid 0x-prefixed hex"))
			return
		}
		data = decoded
	}

	result, err := s.walletService.SendTransaction(r.Context(), r.PathValue("id"), app.SendRequest{
		To:     strings.TrimSpace(req.To),
		Amount: strings.TrimSpace(req.Amount),
		Data:   data,
		Chain:  req.ChainID.String(),
	})
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListTransfers(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			s.writeError(w, apperrors.BadRequest("limit must be a positive integer"))
			return
		}
		limit = n
	}

	transfers, err := s.walletService.ListTransfers(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ListTransfersResponse{Data: transfers})
}

// decode reads a JSON body, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeError(w, apperrors.BadRequest("request body too large"))
			return false
		}
		s.writeError(w, apperrors.BadRequest("invalid request body"))
		return false
	}
	return true
}

// handleError writes err as an AppError. Anything else is logged and
// reported as an internal error.
func (s *Server) handleError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		logger.Error(r.Context(), "unmapped service error", "error", err)
		appErr = apperrors.ErrInternalError
	}
	s.writeError(w, appErr)
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func (s *Server) writeError(w http.ResponseWriter, err *apperrors.AppError) {
	if err.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(err.RetryAfterSeconds))
	}
	s.writeJSON(w, err.StatusCode, err)
}
