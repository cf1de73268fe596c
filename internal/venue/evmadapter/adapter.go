// Package evmadapter implements venue.Adapter for EVM-settled perpetual-futures
// DEXes (lighter, aster). Order placement is REST, authenticated by an
// EIP-712 signature over each order's struct hash — the same domain-separator
// and struct-hash construction the teacher's exec/client.go uses for
// Polymarket CTF orders, generalized from a binary-outcome token order to a
// perp order (symbol, side, qty, price, reduce_only). Book data is a
// gorilla/websocket feed reconnecting in the same loop shape as the
// teacher's feeds/polymarket_ws.go, feeding ticks into wsfeed.Cache.
package evmadapter

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/fundingarb/engine/internal/types"
	"github.com/fundingarb/engine/internal/venue"
)

const (
	reconnectDelay = 5 * time.Second
	pingInterval   = 30 * time.Second
)

// SignedOrder is the EIP-712 payload signed and submitted for every order.
type SignedOrder struct {
	Salt          string `json:"salt"`
	Maker         string `json:"maker"`
	Symbol        string `json:"symbol"`
	Side          string `json:"side"`
	Price         string `json:"price"`
	Qty           string `json:"qty"`
	ReduceOnly    bool   `json:"reduceOnly"`
	PostOnly      bool   `json:"postOnly"`
	OrderType     string `json:"orderType"` // LIMIT or MARKET
	Nonce         string `json:"nonce"`
	Signature     string `json:"signature"`
}

// Config wires one venue's REST base URL, WS URL, contract address and
// signing key.
type Config struct {
	VenueName         string
	RESTBaseURL       string
	WSURL             string
	ContractAddress   string
	ChainID           int64
	PrivateKeyHex     string
	Venue             types.Venue
	Symbols           map[string]types.Symbol
	DryRun            bool
}

// Adapter is a venue.Adapter implementation settling orders on an EVM chain.
type Adapter struct {
	cfg        Config
	privateKey *ecdsa.PrivateKey
	address    string
	http       *resty.Client
	domainSep  [32]byte

	mu      sync.RWMutex
	conn    *websocket.Conn
	running bool
	stopCh  chan struct{}
}

// New constructs an Adapter. A missing or invalid private key is tolerated
// only when cfg.DryRun is true.
func New(cfg Config) (*Adapter, error) {
	a := &Adapter{
		cfg:    cfg,
		http:   resty.New().SetBaseURL(cfg.RESTBaseURL).SetTimeout(10 * time.Second),
		stopCh: make(chan struct{}),
	}

	pkHex := strings.TrimPrefix(cfg.PrivateKeyHex, "0x")
	if pkHex != "" {
		pk, err := crypto.HexToECDSA(pkHex)
		if err != nil {
			return nil, fmt.Errorf("evmadapter: invalid private key for %s: %w", cfg.VenueName, err)
		}
		a.privateKey = pk
		a.address = crypto.PubkeyToAddress(pk.PublicKey).Hex()
	} else if !cfg.DryRun {
		return nil, fmt.Errorf("evmadapter: no private key configured for %s and DRY_RUN is false", cfg.VenueName)
	}

	a.domainSep = buildDomainSeparator(cfg.ContractAddress, cfg.ChainID)
	return a, nil
}

func (a *Adapter) Name() string        { return a.cfg.VenueName }
func (a *Adapter) Venue() types.Venue  { return a.cfg.Venue }

func (a *Adapter) TickSize(symbol string) decimal.Decimal {
	return a.cfg.Symbols[symbol].TickSize
}

func (a *Adapter) LotSize(symbol string) decimal.Decimal {
	return a.cfg.Symbols[symbol].LotSize
}

// RoundPrice rounds price to the symbol's tick size, rounding down for a BUY
// (never overpay) and up for a SELL (never underprice) — consistent rounding
// direction a maker never regrets.
func (a *Adapter) RoundPrice(symbol string, price decimal.Decimal, side types.Side) decimal.Decimal {
	tick := a.cfg.Symbols[symbol].TickSize
	if tick.IsZero() {
		return price
	}
	ticks := price.Div(tick)
	if side == types.SideBuy {
		return ticks.Floor().Mul(tick)
	}
	return ticks.Ceil().Mul(tick)
}

// BestBidAsk fetches current top-of-book via REST. Callers typically prefer
// wsfeed.Cache; this exists for adapters the cache isn't warmed for yet.
func (a *Adapter) BestBidAsk(ctx context.Context, symbol string) (types.BookTicker, error) {
	var out struct {
		Bid, Ask, BidSize, AskSize decimal.Decimal
	}
	resp, err := a.http.R().SetContext(ctx).SetQueryParam("symbol", symbol).SetResult(&out).Get("/v1/ticker")
	if err != nil {
		return types.BookTicker{}, fmt.Errorf("%w: %s", venue.ErrTransient, err)
	}
	if resp.IsError() {
		return types.BookTicker{}, fmt.Errorf("%w: ticker status %s", venue.ErrTransient, resp.Status())
	}
	return types.BookTicker{
		Venue: a.cfg.VenueName, Symbol: symbol,
		Bid: out.Bid, Ask: out.Ask, BidSize: out.BidSize, AskSize: out.AskSize,
		TS: time.Now(),
	}, nil
}

// OrderBook fetches up to depth levels per side.
func (a *Adapter) OrderBook(ctx context.Context, symbol string, depth int) ([]types.BookLevel, []types.BookLevel, error) {
	var out struct {
		Bids [][2]decimal.Decimal `json:"bids"`
		Asks [][2]decimal.Decimal `json:"asks"`
	}
	resp, err := a.http.R().SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetQueryParam("depth", fmt.Sprintf("%d", depth)).
		SetResult(&out).Get("/v1/orderbook")
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s", venue.ErrTransient, err)
	}
	if resp.IsError() {
		return nil, nil, fmt.Errorf("%w: orderbook status %s", venue.ErrTransient, resp.Status())
	}
	bids := make([]types.BookLevel, 0, len(out.Bids))
	for _, l := range out.Bids {
		bids = append(bids, types.BookLevel{Price: l[0], Size: l[1]})
	}
	asks := make([]types.BookLevel, 0, len(out.Asks))
	for _, l := range out.Asks {
		asks = append(asks, types.BookLevel{Price: l[0], Size: l[1]})
	}
	return bids, asks, nil
}

// PlaceLimit submits a signed limit order. postOnly rejection is detected by
// the venue's own matching-engine check and surfaced as ErrPostOnlyReject.
func (a *Adapter) PlaceLimit(ctx context.Context, symbol string, side types.Side, qty, price decimal.Decimal, postOnly, reduceOnly bool) (string, error) {
	return a.placeOrder(ctx, symbol, side, qty, price, "LIMIT", postOnly, reduceOnly)
}

// PlaceMarket submits a signed market order.
func (a *Adapter) PlaceMarket(ctx context.Context, symbol string, side types.Side, qty decimal.Decimal, reduceOnly bool) (string, error) {
	return a.placeOrder(ctx, symbol, side, qty, decimal.Zero, "MARKET", false, reduceOnly)
}

func (a *Adapter) placeOrder(ctx context.Context, symbol string, side types.Side, qty, price decimal.Decimal, orderType string, postOnly, reduceOnly bool) (string, error) {
	if a.cfg.DryRun {
		clientID := fmt.Sprintf("DRY_%s_%d", a.cfg.VenueName, time.Now().UnixNano())
		log.Info().Str("client_id", clientID).Str("venue", a.cfg.VenueName).Str("symbol", symbol).
			Str("side", string(side)).Str("qty", qty.String()).Str("price", price.String()).
			Str("type", orderType).Msg("dry run: order would be placed")
		return clientID, nil
	}

	order, err := a.buildSignedOrder(symbol, side, qty, price, orderType, postOnly, reduceOnly)
	if err != nil {
		return "", fmt.Errorf("evmadapter: build order: %w", err)
	}

	var out struct {
		ClientID string `json:"clientId"`
		ErrorMsg string `json:"error"`
		Reason   string `json:"reason"`
	}
	resp, err := a.http.R().SetContext(ctx).SetBody(order).SetResult(&out).Post("/v1/order")
	if err != nil {
		return "", fmt.Errorf("%w: %s", venue.ErrTransient, err)
	}
	if out.Reason == "post_only_cross" {
		return "", venue.ErrPostOnlyReject
	}
	if resp.IsError() || out.ErrorMsg != "" {
		return "", fmt.Errorf("%w: %s", venue.ErrPermanent, out.ErrorMsg)
	}
	return out.ClientID, nil
}

func (a *Adapter) buildSignedOrder(symbol string, side types.Side, qty, price decimal.Decimal, orderType string, postOnly, reduceOnly bool) (*SignedOrder, error) {
	if a.privateKey == nil {
		return nil, fmt.Errorf("no private key loaded")
	}
	order := &SignedOrder{
		Salt:       generateSalt(),
		Maker:      a.address,
		Symbol:     symbol,
		Side:       string(side),
		Price:      price.String(),
		Qty:        qty.String(),
		ReduceOnly: reduceOnly,
		PostOnly:   postOnly,
		OrderType:  orderType,
		Nonce:      fmt.Sprintf("%d", time.Now().UnixNano()),
	}
	sig, err := a.signOrderEIP712(order)
	if err != nil {
		return nil, fmt.Errorf("signing failed: %w", err)
	}
	order.Signature = sig
	return order, nil
}

// signOrderEIP712 hashes the order's struct fields against this venue's
// domain separator and signs with crypto.Sign, the same two-step EIP-712
// flow as buildOrderStructHash/signOrderEIP712 in exec/client.go.
func (a *Adapter) signOrderEIP712(order *SignedOrder) (string, error) {
	structHash := buildOrderStructHash(order)

	digest := crypto.Keccak256(
		[]byte{0x19, 0x01},
		a.domainSep[:],
		structHash[:],
	)

	sig, err := crypto.Sign(digest, a.privateKey)
	if err != nil {
		return "", err
	}
	sig[64] += 27 // v in {27, 28}, matching the Ethereum JSON-RPC convention
	return "0x" + common.Bytes2Hex(sig), nil
}

func buildDomainSeparator(contractAddr string, chainID int64) [32]byte {
	domainTypeHash := crypto.Keccak256([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
	nameHash := crypto.Keccak256([]byte("FundingArbPerp"))
	versionHash := crypto.Keccak256([]byte("1"))

	chainIDPadded := padUint256(big.NewInt(chainID).String())
	addrPadded := common.LeftPadBytes(common.HexToAddress(contractAddr).Bytes(), 32)

	var buf []byte
	buf = append(buf, domainTypeHash...)
	buf = append(buf, nameHash...)
	buf = append(buf, versionHash...)
	buf = append(buf, chainIDPadded...)
	buf = append(buf, addrPadded...)

	var out [32]byte
	copy(out[:], crypto.Keccak256(buf))
	return out
}

func buildOrderStructHash(order *SignedOrder) [32]byte {
	typeHash := crypto.Keccak256([]byte("Order(uint256 salt,address maker,string symbol,string side,string price,string qty,bool reduceOnly,string orderType,uint256 nonce)"))

	var buf []byte
	buf = append(buf, typeHash...)
	buf = append(buf, padUint256(order.Salt)...)
	buf = append(buf, common.LeftPadBytes(common.HexToAddress(order.Maker).Bytes(), 32)...)
	buf = append(buf, crypto.Keccak256([]byte(order.Symbol))...)
	buf = append(buf, crypto.Keccak256([]byte(order.Side))...)
	buf = append(buf, crypto.Keccak256([]byte(order.Price))...)
	buf = append(buf, crypto.Keccak256([]byte(order.Qty))...)
	reduceOnlyWord := make([]byte, 32)
	if order.ReduceOnly {
		reduceOnlyWord[31] = 1
	}
	buf = append(buf, reduceOnlyWord...)
	buf = append(buf, crypto.Keccak256([]byte(order.OrderType))...)
	buf = append(buf, padUint256(order.Nonce)...)

	var out [32]byte
	copy(out[:], crypto.Keccak256(buf))
	return out
}

func padUint256(s string) []byte {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		n = big.NewInt(0)
	}
	return common.LeftPadBytes(n.Bytes(), 32)
}

func generateSalt() string {
	return fmt.Sprintf("%d", rand.Int63())
}

// Cancel is idempotent: a not-found response is treated as success.
func (a *Adapter) Cancel(ctx context.Context, clientID string) error {
	resp, err := a.http.R().SetContext(ctx).Delete("/v1/order/" + clientID)
	if err != nil {
		return fmt.Errorf("%w: %s", venue.ErrTransient, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return nil
	}
	if resp.IsError() {
		return fmt.Errorf("%w: cancel status %s", venue.ErrTransient, resp.Status())
	}
	return nil
}

// OrderStatus polls current fill state for a previously placed order.
func (a *Adapter) OrderStatus(ctx context.Context, clientID string) (types.TrackedOrder, error) {
	if strings.HasPrefix(clientID, "DRY_") {
		return types.TrackedOrder{ClientID: clientID, Status: types.OrderFilled}, nil
	}
	var out struct {
		Status       string          `json:"status"`
		FilledQty    decimal.Decimal `json:"filledQty"`
		AvgFillPrice decimal.Decimal `json:"avgFillPrice"`
		FeesPaid     decimal.Decimal `json:"feesPaid"`
	}
	resp, err := a.http.R().SetContext(ctx).SetResult(&out).Get("/v1/order/" + clientID)
	if err != nil {
		return types.TrackedOrder{}, fmt.Errorf("%w: %s", venue.ErrTransient, err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return types.TrackedOrder{}, venue.ErrNotFound
	}
	if resp.IsError() {
		return types.TrackedOrder{}, fmt.Errorf("%w: order status %s", venue.ErrTransient, resp.Status())
	}
	return types.TrackedOrder{
		ClientID:     clientID,
		FilledQty:    out.FilledQty,
		AvgFillPrice: out.AvgFillPrice,
		FeesPaid:     out.FeesPaid,
		Status:       normalizeOrderStatus(out.Status),
	}, nil
}

func normalizeOrderStatus(s string) types.OrderStatus {
	switch strings.ToUpper(s) {
	case "FILLED":
		return types.OrderFilled
	case "PARTIAL", "PARTIALLY_FILLED":
		return types.OrderPartial
	case "CANCELED", "CANCELLED":
		return types.OrderCanceled
	case "REJECTED":
		return types.OrderRejected
	case "NEW", "OPEN":
		return types.OrderPlaced
	default:
		return types.OrderUnknown
	}
}

// SetAccountLeverage is unsupported on venues that key leverage per-position
// rather than per-account; callers tolerate ErrUnsupported.
func (a *Adapter) SetAccountLeverage(ctx context.Context, symbol string, leverage int) error {
	if !a.cfg.Venue.LeverageSettable {
		return venue.ErrUnsupported
	}
	resp, err := a.http.R().SetContext(ctx).
		SetBody(map[string]interface{}{"symbol": symbol, "leverage": leverage}).
		Post("/v1/account/leverage")
	if err != nil {
		return fmt.Errorf("%w: %s", venue.ErrTransient, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%w: set leverage status %s", venue.ErrTransient, resp.Status())
	}
	return nil
}

// MaxLeverage fetches the venue's max leverage for a symbol.
func (a *Adapter) MaxLeverage(ctx context.Context, symbol string) (int, error) {
	var out struct {
		MaxLeverage int `json:"maxLeverage"`
	}
	resp, err := a.http.R().SetContext(ctx).SetQueryParam("symbol", symbol).SetResult(&out).Get("/v1/symbols/leverage")
	if err != nil {
		return 0, fmt.Errorf("%w: %s", venue.ErrTransient, err)
	}
	if resp.IsError() {
		return 0, fmt.Errorf("%w: max leverage status %s", venue.ErrTransient, resp.Status())
	}
	return out.MaxLeverage, nil
}

// Subscribe implements wsfeed.Subscriber: it starts the connection loop on
// first call and pushes every book-ticker tick for symbol to onTick.
func (a *Adapter) Subscribe(ctx context.Context, symbol string, onTick func(types.BookTicker)) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return a.subscribeSymbol(symbol)
	}
	a.running = true
	a.mu.Unlock()

	go a.connectionLoop(ctx, symbol, onTick)
	return nil
}

func (a *Adapter) connectionLoop(ctx context.Context, symbol string, onTick func(types.BookTicker)) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stopCh:
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.Dial(a.cfg.WSURL, nil)
		if err != nil {
			log.Error().Err(err).Str("venue", a.cfg.VenueName).Msg("websocket connect failed, retrying")
			time.Sleep(reconnectDelay)
			continue
		}

		a.mu.Lock()
		a.conn = conn
		a.mu.Unlock()
		log.Info().Str("venue", a.cfg.VenueName).Msg("websocket connected")

		if err := a.subscribeSymbol(symbol); err != nil {
			log.Warn().Err(err).Str("venue", a.cfg.VenueName).Msg("subscribe message failed")
		}

		go a.pingLoop(conn)
		a.readLoop(conn, onTick)
		time.Sleep(reconnectDelay)
	}
}

func (a *Adapter) subscribeSymbol(symbol string) error {
	a.mu.RLock()
	conn := a.conn
	a.mu.RUnlock()
	if conn == nil {
		return nil
	}
	return conn.WriteJSON(map[string]interface{}{
		"type":    "subscribe",
		"channel": "ticker",
		"symbol":  symbol,
	})
}

func (a *Adapter) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (a *Adapter) readLoop(conn *websocket.Conn, onTick func(types.BookTicker)) {
	defer conn.Close()
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Str("venue", a.cfg.VenueName).Msg("websocket read error")
			return
		}
		var frame struct {
			Symbol  string          `json:"symbol"`
			Bid     decimal.Decimal `json:"bid"`
			Ask     decimal.Decimal `json:"ask"`
			BidSize decimal.Decimal `json:"bidSize"`
			AskSize decimal.Decimal `json:"askSize"`
		}
		if err := json.Unmarshal(msg, &frame); err != nil {
			continue
		}
		onTick(types.BookTicker{
			Venue: a.cfg.VenueName, Symbol: frame.Symbol,
			Bid: frame.Bid, Ask: frame.Ask, BidSize: frame.BidSize, AskSize: frame.AskSize,
			TS: time.Now(),
		})
	}
}

var _ venue.Adapter = (*Adapter)(nil)
