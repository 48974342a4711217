package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	nativecommon "stablecore/native/common"
	"stablecore/native/stable"
	"stablecore/native/token"
)

var (
	errUnauthenticated    = errors.New("acting account required")
	errFeedUpdatesOff     = errors.New("feed updates are disabled")
	errUnknownFeed        = errors.New("unknown price feed")
	errUnknownTokenLedger = errors.New("unknown token")
)

// requestError marks malformed input.
type requestError struct {
	err error
}

func (e *requestError) Error() string { return e.err.Error() }
func (e *requestError) Unwrap() error { return e.err }

func invalid(format string, args ...any) error {
	return &requestError{err: fmt.Errorf(format, args...)}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// toStatus maps an error to its HTTP status and stable error code.
func toStatus(err error) (int, string) {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, stable.ErrRollbackIncomplete):
		return http.StatusInternalServerError, "rollback_incomplete"
	case errors.Is(err, errUnauthenticated):
		return http.StatusUnauthorized, "unauthenticated"
	case errors.Is(err, errFeedUpdatesOff):
		return http.StatusForbidden, "feed_updates_disabled"
	case errors.Is(err, errUnknownFeed), errors.Is(err, errUnknownTokenLedger):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, stable.ErrNeedsMoreThanZero):
		return http.StatusBadRequest, "needs_more_than_zero"
	case errors.Is(err, stable.ErrNotAllowedToken):
		return http.StatusBadRequest, "token_not_allowed"
	case errors.Is(err, stable.ErrZeroAddress), errors.Is(err, token.ErrZeroAddress), errors.Is(err, token.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, stable.ErrBreaksHealthFactor):
		return http.StatusUnprocessableEntity, "breaks_health_factor"
	case errors.Is(err, stable.ErrHealthFactorOk):
		return http.StatusUnprocessableEntity, "health_factor_ok"
	case errors.Is(err, stable.ErrHealthFactorNotImproved):
		return http.StatusUnprocessableEntity, "health_factor_not_improved"
	case errors.Is(err, stable.ErrInsufficientCollateral):
		return http.StatusUnprocessableEntity, "insufficient_collateral"
	case errors.Is(err, stable.ErrBurnExceedsDebt):
		return http.StatusUnprocessableEntity, "burn_exceeds_debt"
	case errors.Is(err, stable.ErrValuationOverflow):
		return http.StatusUnprocessableEntity, "valuation_overflow"
	case errors.Is(err, token.ErrInsufficientBalance), errors.Is(err, token.ErrInsufficientAllowance):
		return http.StatusUnprocessableEntity, "insufficient_funds"
	case errors.Is(err, stable.ErrTransferFailed):
		return http.StatusConflict, "transfer_failed"
	case errors.Is(err, stable.ErrMintFailed):
		return http.StatusConflict, "mint_failed"
	case errors.Is(err, stable.ErrReentrantCall):
		return http.StatusConflict, "reentrant_call"
	case errors.Is(err, nativecommon.ErrModulePaused):
		return http.StatusServiceUnavailable, "module_paused"
	case errors.Is(err, stable.ErrFeedUnavailable):
		return http.StatusBadGateway, "feed_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "cancelled"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := toStatus(err)
	message := strings.TrimSpace(err.Error())
	if status >= http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "code", code, "error", err)
		if code == "internal" {
			message = http.StatusText(status)
		}
	}
	writeJSON(w, status, errorBody{Error: code, Message: message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Warn("write response", "error", err)
	}
}

func decodeJSON(r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(nil, r.Body, requestLimit))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return invalid("invalid payload: %v", err)
	}
	if decoder.More() {
		return invalid("invalid payload: trailing data")
	}
	return nil
}

func parseAddress(field, raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, invalid("%s: invalid address %q", field, raw)
	}
	return common.HexToAddress(raw), nil
}

// parseAmount reads a base-10 integer in the asset's smallest unit.
func parseAmount(field, raw string) (*uint256.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, invalid("%s: amount required", field)
	}
	amount, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, invalid("%s: invalid amount %q", field, raw)
	}
	return amount, nil
}
