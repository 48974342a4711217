package server

import (
	"context"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"stablecore/native/stable"
)

type collateralRequest struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type debtRequest struct {
	Amount string `json:"amount"`
}

type positionRequest struct {
	Token      string `json:"token"`
	Collateral string `json:"collateral"`
	Debt       string `json:"debt"`
}

type liquidationRequest struct {
	User        string `json:"user"`
	Token       string `json:"token"`
	DebtToCover string `json:"debt_to_cover"`
}

type collateralView struct {
	Token  string `json:"token"`
	Symbol string `json:"symbol,omitempty"`
	Amount string `json:"amount"`
}

type positionView struct {
	Account         string           `json:"account"`
	Debt            string           `json:"debt"`
	CollateralValue string           `json:"collateral_value"`
	HealthFactor    string           `json:"health_factor"`
	Healthy         bool             `json:"healthy"`
	Collateral      []collateralView `json:"collateral"`
}

type operationResponse struct {
	Operation string        `json:"operation"`
	Status    string        `json:"status"`
	Position  *positionView `json:"position,omitempty"`
}

type liquidationResponse struct {
	OperationID          string        `json:"operation_id"`
	DebtRepaid           string        `json:"debt_repaid"`
	CollateralSeized     string        `json:"collateral_seized"`
	Bonus                string        `json:"bonus"`
	StartingHealthFactor string        `json:"starting_health_factor"`
	EndingHealthFactor   string        `json:"ending_health_factor"`
	Position             *positionView `json:"position,omitempty"`
}

func (s *Server) symbolOf(addr common.Address) string {
	if s.tokens == nil {
		return ""
	}
	if ledger, ok := s.tokens.Ledger(addr); ok {
		return ledger.Symbol()
	}
	return ""
}

func (s *Server) renderPosition(pos stable.Position) positionView {
	view := positionView{
		Account:         pos.User.Hex(),
		Debt:            pos.Debt.Dec(),
		CollateralValue: pos.CollateralValue.Dec(),
		HealthFactor:    stable.FormatWad(pos.HealthFactor),
		Healthy:         !pos.HealthFactor.Lt(s.engine.Params().MinHealthFactor),
	}
	for _, addr := range s.engine.CollateralTokens() {
		amount, ok := pos.Collateral[addr]
		if !ok || amount == nil || amount.IsZero() {
			continue
		}
		view.Collateral = append(view.Collateral, collateralView{
			Token:  addr.Hex(),
			Symbol: s.symbolOf(addr),
			Amount: amount.Dec(),
		})
	}
	if view.Collateral == nil {
		view.Collateral = []collateralView{}
	}
	return view
}

// positionAfter reads the position following a committed operation. A read
// failure does not undo the operation, so it only drops the snapshot.
func (s *Server) positionAfter(r *http.Request, user common.Address) *positionView {
	ctx, cancel := s.context(r.Context())
	defer cancel()
	pos, err := s.engine.Position(ctx, user)
	if err != nil {
		s.logger.WarnContext(r.Context(), "position unavailable after commit", "user", user.Hex(), "error", err)
		return nil
	}
	view := s.renderPosition(pos)
	return &view
}

func (s *Server) committed(w http.ResponseWriter, r *http.Request, operation string, user common.Address) {
	writeJSON(w, http.StatusOK, operationResponse{
		Operation: operation,
		Status:    "committed",
		Position:  s.positionAfter(r, user),
	})
}

func (s *Server) getConfig(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.context(r.Context())
	defer cancel()
	params := s.engine.Params()
	type assetView struct {
		Token    string `json:"token"`
		Symbol   string `json:"symbol,omitempty"`
		Feed     string `json:"feed"`
		Decimals uint8  `json:"decimals"`
	}
	assets := make([]assetView, 0, len(s.engine.CollateralTokens()))
	for _, addr := range s.engine.CollateralTokens() {
		asset, ok := s.engine.AssetOf(addr)
		if !ok {
			continue
		}
		assets = append(assets, assetView{
			Token:    asset.Token.Hex(),
			Symbol:   s.symbolOf(asset.Token),
			Feed:     asset.Feed.Hex(),
			Decimals: asset.Decimals,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"engine":       s.engine.Self().Hex(),
		"stable_token": s.stableToken.Hex(),
		"params": map[string]any{
			"liquidation_threshold":     params.LiquidationThreshold,
			"liquidation_precision":     params.LiquidationPrecision,
			"liquidation_bonus_divisor": params.LiquidationBonusDivisor,
			"min_health_factor":         stable.FormatWad(params.MinHealthFactor),
		},
		"collateral": assets,
		"total_debt": s.engine.TotalDebt(ctx).Dec(),
	})
}

func (s *Server) getPosition(w http.ResponseWriter, r *http.Request) {
	user, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	pos, err := s.engine.Position(ctx, user)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.renderPosition(pos))
}

func (s *Server) getHealth(w http.ResponseWriter, r *http.Request) {
	user, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	pos, err := s.engine.Position(ctx, user)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	view := s.renderPosition(pos)
	writeJSON(w, http.StatusOK, map[string]any{
		"account":           view.Account,
		"health_factor":     view.HealthFactor,
		"health_factor_raw": pos.HealthFactor.Dec(),
		"healthy":           view.Healthy,
	})
}

func (s *Server) getValue(w http.ResponseWriter, r *http.Request) {
	s.convert(w, r, "amount", "value", s.engine.ValueFromTokenAmount)
}

func (s *Server) getQuantity(w http.ResponseWriter, r *http.Request) {
	s.convert(w, r, "value", "amount", s.engine.TokenAmountFromValue)
}

type conversion func(ctx context.Context, token common.Address, in *uint256.Int) (*uint256.Int, error)

func (s *Server) convert(w http.ResponseWriter, r *http.Request, in, out string, fn conversion) {
	tokenAddr, err := parseAddress("token", chi.URLParam(r, "token"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	input, err := parseAmount(in, r.URL.Query().Get(in))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	result, err := fn(ctx, tokenAddr, input)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token": tokenAddr.Hex(),
		in:      input.Dec(),
		out:     result.Dec(),
	})
}

func (s *Server) depositCollateral(w http.ResponseWriter, r *http.Request) {
	s.collateralOp(w, r, "deposit", s.engine.DepositCollateral)
}

func (s *Server) redeemCollateral(w http.ResponseWriter, r *http.Request) {
	s.collateralOp(w, r, "redeem", s.engine.RedeemCollateral)
}

type collateralFunc func(ctx context.Context, user, token common.Address, amount *uint256.Int) error

func (s *Server) collateralOp(w http.ResponseWriter, r *http.Request, name string, fn collateralFunc) {
	user, err := s.actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req collateralRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	tokenAddr, err := parseAddress("token", req.Token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	if err := fn(ctx, user, tokenAddr, amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.committed(w, r, name, user)
}

func (s *Server) mintDebt(w http.ResponseWriter, r *http.Request) {
	s.debtOp(w, r, "mint", s.engine.MintDebt)
}

func (s *Server) burnDebt(w http.ResponseWriter, r *http.Request) {
	s.debtOp(w, r, "burn", s.engine.BurnDebt)
}

type debtFunc func(ctx context.Context, user common.Address, amount *uint256.Int) error

func (s *Server) debtOp(w http.ResponseWriter, r *http.Request, name string, fn debtFunc) {
	user, err := s.actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req debtRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	if err := fn(ctx, user, amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.committed(w, r, name, user)
}

func (s *Server) depositAndMint(w http.ResponseWriter, r *http.Request) {
	s.positionOp(w, r, "deposit_and_mint", s.engine.DepositAndMint)
}

func (s *Server) redeemForDebt(w http.ResponseWriter, r *http.Request) {
	s.positionOp(w, r, "redeem_for_debt", s.engine.RedeemCollateralForDebt)
}

type positionFunc func(ctx context.Context, user, token common.Address, collateral, debt *uint256.Int) error

func (s *Server) positionOp(w http.ResponseWriter, r *http.Request, name string, fn positionFunc) {
	user, err := s.actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req positionRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	tokenAddr, err := parseAddress("token", req.Token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	collateral, err := parseAmount("collateral", req.Collateral)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	debt, err := parseAmount("debt", req.Debt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	if err := fn(ctx, user, tokenAddr, collateral, debt); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.committed(w, r, name, user)
}

func (s *Server) liquidate(w http.ResponseWriter, r *http.Request) {
	liquidator, err := s.actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req liquidationRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	user, err := parseAddress("user", req.User)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tokenAddr, err := parseAddress("token", req.Token)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	debtToCover, err := parseAmount("debt_to_cover", req.DebtToCover)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ctx, cancel := s.context(r.Context())
	defer cancel()
	result, err := s.engine.Liquidate(ctx, liquidator, user, tokenAddr, debtToCover)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, liquidationResponse{
		OperationID:          result.OperationID,
		DebtRepaid:           result.DebtRepaid.Dec(),
		CollateralSeized:     result.CollateralSeized.Dec(),
		Bonus:                result.Bonus.Dec(),
		StartingHealthFactor: stable.FormatWad(result.StartingHealthFactor),
		EndingHealthFactor:   stable.FormatWad(result.EndingHealthFactor),
		Position:             s.positionAfter(r, user),
	})
}

func (s *Server) listTokens(w http.ResponseWriter, r *http.Request) {
	type tokenView struct {
		Token       string `json:"token"`
		Symbol      string `json:"symbol"`
		Decimals    uint8  `json:"decimals"`
		TotalSupply string `json:"total_supply"`
	}
	out := []tokenView{}
	for _, addr := range s.tokens.Addresses() {
		ledger, ok := s.tokens.Ledger(addr)
		if !ok {
			continue
		}
		out = append(out, tokenView{
			Token:       addr.Hex(),
			Symbol:      ledger.Symbol(),
			Decimals:    ledger.Decimals(),
			TotalSupply: ledger.TotalSupply().Dec(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	tokenAddr, err := parseAddress("token", chi.URLParam(r, "token"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	owner, err := parseAddress("address", chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ledger, ok := s.tokens.Ledger(tokenAddr)
	if !ok {
		s.writeError(w, r, errUnknownTokenLedger)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":            tokenAddr.Hex(),
		"account":          owner.Hex(),
		"balance":          ledger.BalanceOf(owner).Dec(),
		"engine_allowance": ledger.Allowance(owner, s.engine.Self()).Dec(),
	})
}

func (s *Server) approve(w http.ResponseWriter, r *http.Request) {
	owner, err := s.actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tokenAddr, err := parseAddress("token", chi.URLParam(r, "token"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		Spender string `json:"spender"`
		Amount  string `json:"amount"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	spender := s.engine.Self()
	if req.Spender != "" {
		if spender, err = parseAddress("spender", req.Spender); err != nil {
			s.writeError(w, r, err)
			return
		}
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ledger, ok := s.tokens.Ledger(tokenAddr)
	if !ok {
		s.writeError(w, r, errUnknownTokenLedger)
		return
	}
	if err := ledger.Approve(owner, spender, amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":     tokenAddr.Hex(),
		"owner":     owner.Hex(),
		"spender":   spender.Hex(),
		"allowance": ledger.Allowance(owner, spender).Dec(),
	})
}

func (s *Server) transfer(w http.ResponseWriter, r *http.Request) {
	from, err := s.actor(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	tokenAddr, err := parseAddress("token", chi.URLParam(r, "token"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req struct {
		To     string `json:"to"`
		Amount string `json:"amount"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	ledger, ok := s.tokens.Ledger(tokenAddr)
	if !ok {
		s.writeError(w, r, errUnknownTokenLedger)
		return
	}
	if err := ledger.Transfer(from, to, amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":   tokenAddr.Hex(),
		"from":    from.Hex(),
		"to":      to.Hex(),
		"balance": ledger.BalanceOf(from).Dec(),
	})
}

func (s *Server) publishFeed(w http.ResponseWriter, r *http.Request) {
	if !s.allowFeeds {
		s.writeError(w, r, errFeedUpdatesOff)
		return
	}
	feedAddr, err := parseAddress("feed", chi.URLParam(r, "feed"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	feed, ok := s.feeds[feedAddr]
	if !ok || feed == nil {
		s.writeError(w, r, errUnknownFeed)
		return
	}
	var req struct {
		Answer string `json:"answer"`
	}
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	answer, ok := new(big.Int).SetString(req.Answer, 10)
	if !ok || answer.Sign() <= 0 {
		s.writeError(w, r, invalid("answer: must be a positive integer"))
		return
	}
	feed.SetAnswer(answer)
	if s.onFeedUpdate != nil {
		s.onFeedUpdate(feedAddr)
	}
	s.logger.InfoContext(r.Context(), "feed answer published", "feed", feedAddr.Hex(), "answer", answer.String())
	writeJSON(w, http.StatusOK, map[string]string{
		"feed":   feedAddr.Hex(),
		"answer": answer.String(),
	})
}
