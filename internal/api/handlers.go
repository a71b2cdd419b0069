package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/holiman/uint256"

	"maker-auction/internal/auction"
	"maker-auction/internal/auth"
	"maker-auction/internal/config"
	"maker-auction/internal/token"
	"maker-auction/pkg/types"
)

const maxBodySize = 64 * 1024

// Handlers holds all HTTP handler dependencies
type Handlers struct {
	cfg      config.APIConfig
	engine   Engine
	balances Balances
	history  History // nil when the journal is disabled
	verifier *auth.Verifier
	decimals int32
	hub      *Hub
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(cfg config.APIConfig, deps Deps, hub *Hub, logger *slog.Logger) *Handlers {
	h := &Handlers{
		cfg:      cfg,
		engine:   deps.Engine,
		balances: deps.Balances,
		history:  deps.History,
		verifier: auth.NewVerifier(cfg.ChainID, nil),
		decimals: deps.Decimals,
		hub:      hub,
		logger:   logger.With("component", "api-handlers"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return isOriginAllowed(r.Header.Get("Origin"), cfg, r.Host)
		},
	}
	return h
}

// isOriginAllowed decides whether a browser origin may open the event stream.
// Requests without an Origin header (non-browser clients) are always allowed.
// With an allowlist only exact matches pass; without one, localhost and the
// server's own host pass.
func isOriginAllowed(origin string, cfg config.APIConfig, reqHost string) bool {
	if origin == "" {
		return true
	}
	if len(cfg.AllowedOrigins) > 0 {
		for _, o := range cfg.AllowedOrigins {
			if o == origin {
				return true
			}
		}
		return false
	}

	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return strings.EqualFold(u.Host, reqHost)
}

// HandleHealth returns a simple health check response
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleStatus returns the engine summary and every active auction.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, BuildStatus(h.engine, h.decimals))
}

func (h *Handlers) HandleListAuctions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, BuildStatus(h.engine, h.decimals).Auctions)
}

// HandleShowAuction returns one record; an unknown token yields an inactive
// record rather than 404.
func (h *Handlers) HandleShowAuction(w http.ResponseWriter, r *http.Request) {
	tok, ok := pathAddress(w, r, "token")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, NewAuctionView(tok, h.engine.Bids(tok), h.engine.Now(), h.decimals))
}

func (h *Handlers) HandleStart(w http.ResponseWriter, r *http.Request) {
	h.handleBid(w, r, h.engine.Start)
}

func (h *Handlers) HandlePlaceBid(w http.ResponseWriter, r *http.Request) {
	h.handleBid(w, r, h.engine.PlaceBid)
}

type bidFunc func(ctx context.Context, caller, tok common.Address, amount *uint256.Int, bidder common.Address) error

func (h *Handlers) handleBid(w http.ResponseWriter, r *http.Request, op bidFunc) {
	tok, ok := pathAddress(w, r, "token")
	if !ok {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var req types.BidRequest
	if !decode(w, body, &req) {
		return
	}
	caller, ok := h.resolveCaller(w, r, body, req.Caller)
	if !ok {
		return
	}
	bidder, err := parseAddress(req.Bidder)
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidBidder", err.Error())
		return
	}
	amount, err := h.parseAmount(req.Amount, req.AmountUnits)
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidAmount", err.Error())
		return
	}

	if err := op(r.Context(), caller, tok, amount, bidder); err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewAuctionView(tok, h.engine.Bids(tok), h.engine.Now(), h.decimals))
}

func (h *Handlers) HandleEnd(w http.ResponseWriter, r *http.Request) {
	tok, ok := pathAddress(w, r, "token")
	if !ok {
		return
	}
	if err := h.engine.End(r.Context(), tok); err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NewAuctionView(tok, h.engine.Bids(tok), h.engine.Now(), h.decimals))
}

func (h *Handlers) HandleSkim(w http.ResponseWriter, r *http.Request) {
	amount, err := h.engine.SkimBidToken(r.Context())
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.SkimResult{
		Amount: amount.Dec(),
		Units:  token.FormatUnits(amount, h.decimals),
	})
}

func (h *Handlers) HandleUnwind(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var req types.UnwindRequest
	if !decode(w, body, &req) {
		return
	}
	tokenA, errA := parseAddress(req.TokenA)
	tokenB, errB := parseAddress(req.TokenB)
	if err := errors.Join(errA, errB); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidToken", err.Error())
		return
	}

	amountA, amountB, err := h.engine.UnwindLP(r.Context(), tokenA, tokenB)
	if err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, types.UnwindResult{
		AmountA: amountA.Dec(),
		AmountB: amountB.Dec(),
	})
}

func (h *Handlers) HandleStaked(w http.ResponseWriter, r *http.Request) {
	staked := h.engine.StakedBidToken()
	held := h.balances.BalanceOf(h.engine.BidToken(), h.engine.Self())
	writeJSON(w, http.StatusOK, types.StakedView{
		Staked:      staked.Dec(),
		StakedUnits: token.FormatUnits(staked, h.decimals),
		Held:        held.Dec(),
		HeldUnits:   token.FormatUnits(held, h.decimals),
	})
}

// HandleHistory returns journaled events for a token, oldest first.
// ?limit=N keeps only the latest N.
func (h *Handlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		writeError(w, http.StatusNotFound, "JournalDisabled", "event journal is not enabled")
		return
	}
	tok, ok := pathAddress(w, r, "token")
	if !ok {
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "InvalidLimit", "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	entries, err := h.history.History(r.Context(), tok, limit)
	if err != nil {
		h.logger.Error("history query failed", "token", tok.Hex(), "error", err)
		writeError(w, http.StatusInternalServerError, "Internal", "history unavailable")
		return
	}
	views := make([]types.EventView, 0, len(entries))
	for _, e := range entries {
		views = append(views, NewEventView(e.Event, e.ID))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handlers) HandleUpdateReceiver(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var req types.ReceiverRequest
	if !decode(w, body, &req) {
		return
	}
	caller, ok := h.resolveCaller(w, r, body, req.Caller)
	if !ok {
		return
	}
	receiver, err := parseAddress(req.Receiver)
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidReceiver", err.Error())
		return
	}
	if err := h.engine.UpdateReceiver(r.Context(), caller, receiver); err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BuildStatus(h.engine, h.decimals))
}

func (h *Handlers) HandleUpdateWhitelist(w http.ResponseWriter, r *http.Request) {
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var req types.WhitelistRequest
	if !decode(w, body, &req) {
		return
	}
	caller, ok := h.resolveCaller(w, r, body, req.Caller)
	if !ok {
		return
	}
	tok, err := parseAddress(req.Token)
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidToken", err.Error())
		return
	}
	if err := h.engine.UpdateWhitelistToken(r.Context(), caller, tok, req.Enabled); err != nil {
		h.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, BuildStatus(h.engine, h.decimals))
}

// HandleWebSocket upgrades the connection and subscribes it to the hub. The
// first frame is a status snapshot.
func (h *Handlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	status := BuildStatus(h.engine, h.decimals)
	data, err := json.Marshal(types.StreamMessage{
		Type:      types.StreamSnapshot,
		Timestamp: time.Now(),
		Status:    &status,
	})
	if err != nil {
		h.logger.Error("failed to marshal initial snapshot", "error", err)
		conn.Close()
		return
	}
	NewClient(h.hub, conn, data)
}

// resolveCaller returns the signed caller when signatures are required,
// otherwise the caller named in the body. The body is only trusted from a
// loopback peer.
func (h *Handlers) resolveCaller(w http.ResponseWriter, r *http.Request, body []byte, claimed string) (common.Address, bool) {
	if h.cfg.RequireSignatures {
		signer, err := h.verifier.Verify(r.Header.Get, r.Method, r.URL.Path, body)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "BadSignature", err.Error())
			return common.Address{}, false
		}
		return signer, true
	}
	if !fromLoopback(r) {
		writeError(w, http.StatusUnauthorized, "SignatureRequired", "unsigned requests are only accepted from loopback")
		return common.Address{}, false
	}
	caller, err := parseAddress(claimed)
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidCaller", err.Error())
		return common.Address{}, false
	}
	return caller, true
}

func fromLoopback(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return config.IsLoopbackHost(host)
}

func (h *Handlers) parseAmount(raw, units string) (*uint256.Int, error) {
	switch {
	case raw != "" && units != "":
		return nil, fmt.Errorf("set only one of amount and amount_units")
	case raw != "":
		return token.ParseRaw(raw)
	case units != "":
		return token.ParseUnits(units, h.decimals)
	default:
		return nil, fmt.Errorf("amount is required")
	}
}

// writeEngineError maps engine errors onto HTTP statuses.
func (h *Handlers) writeEngineError(w http.ResponseWriter, err error) {
	code := auction.Code(err)
	switch auction.Classify(err) {
	case auction.KindEligibility, auction.KindAmount:
		writeError(w, http.StatusUnprocessableEntity, code, err.Error())
	case auction.KindState:
		writeError(w, http.StatusConflict, code, err.Error())
	case auction.KindAuthorization:
		writeError(w, http.StatusForbidden, code, err.Error())
	case auction.KindInvalid:
		writeError(w, http.StatusBadRequest, code, err.Error())
	default:
		h.logger.Error("engine operation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal", err.Error())
	}
}

func pathAddress(w http.ResponseWriter, r *http.Request, name string) (common.Address, bool) {
	addr, err := parseAddress(r.PathValue(name))
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidToken", err.Error())
		return common.Address{}, false
	}
	return addr, true
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(s), nil
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "InvalidBody", err.Error())
		return nil, false
	}
	return body, true
}

func decode(w http.ResponseWriter, body []byte, v any) bool {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "InvalidBody", err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, types.ErrorResponse{Error: code, Message: msg})
}
