package mint

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"bazaarchain/core/events"
	"bazaarchain/core/types"
	nativecommon "bazaarchain/native/common"
)

const moduleName = "mint"

var (
	errNilState = errors.New("mint engine: state not configured")

	// Precondition violations: rejected before any state mutation.
	ErrZeroAmount          = errors.New("mint: amount must be positive")
	ErrSupplyExhausted     = errors.New("mint: requested amount exceeds remaining supply")
	ErrGiveawayExhausted   = errors.New("mint: requested amount exceeds remaining giveaway budget")
	ErrIneligible          = errors.New("mint: identity not eligible for any active tier")
	ErrInsufficientPayment = errors.New("mint: payment below tier price")
	ErrInsufficientFunds   = errors.New("mint: account balance below declared payment")
	ErrCapExceeded         = errors.New("mint: overflow maximum mint limitation")
	ErrNotOracle           = errors.New("mint: batch resolution restricted to the draw oracle")

	// Invariant violations: fatal for the call.
	ErrRefundFailed = errors.New("mint: overpayment refund failed")
	ErrPoolDrained  = errors.New("mint: available pool exhausted with requests still queued")
)

// Config is the operator-controlled parameter set for the allocation engine.
// Version increases by one on every accepted update.
type Config struct {
	MaxSupply       uint64     `json:"maxSupply"`
	GiveawayAccount [20]byte   `json:"giveawayAccount"`
	GiveawayBudget  uint64     `json:"giveawayBudget"`
	Oracle          [20]byte   `json:"oracle"`
	Treasury        [20]byte   `json:"treasury"`
	BatchCeiling    int        `json:"batchCeiling"`
	Tiers           TierConfig `json:"tiers"`
	Version         uint64     `json:"version"`
}

// Clone deep-copies the config.
func (c Config) Clone() Config {
	clone := c
	clone.Tiers = c.Tiers.Clone()
	return clone
}

// Validate rejects configurations the engine cannot operate under.
func (c Config) Validate() error {
	if c.MaxSupply == 0 {
		return fmt.Errorf("mint: max supply must be positive")
	}
	if c.BatchCeiling <= 0 {
		return fmt.Errorf("mint: batch ceiling must be positive")
	}
	return c.Tiers.Validate()
}

type engineState interface {
	GetAccount(addr []byte) (*types.Account, error)
	PutAccount(addr []byte, account *types.Account) error
	MintToken(tokenID uint64, owner [20]byte) error
	MintStatePut(snapshot *Snapshot) error
	MintStateGet() (*Snapshot, bool, error)
}

type mintEvent struct {
	evt *types.Event
}

func (e mintEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e mintEvent) Event() *types.Event { return e.evt }

// Engine owns the allocation ledger: the available token pool, the pending
// mint queue, per-tier counters and the giveaway budget. All mutating entry
// points run as one atomic unit relative to each other; the caller provides
// that isolation.
type Engine struct {
	state    engineState
	emitter  events.Emitter
	entropy  Entropy
	pauses   nativecommon.PauseView
	nowFn    func() int64
	heightFn func() uint64

	cfg Config

	queue            []PendingMint
	pool             []uint64
	counters         map[string]uint32
	nextPendingID    uint64
	totalQueuedEver  uint64
	giveawayConsumed uint64
}

// NewEngine creates an allocation engine with a no-op emitter and the default
// keccak entropy provider.
func NewEngine() *Engine {
	return &Engine{
		emitter:  events.NoopEmitter{},
		entropy:  KeccakEntropy{},
		nowFn:    func() int64 { return time.Now().Unix() },
		heightFn: func() uint64 { return 0 },
		counters: make(map[string]uint32),
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter. Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetEntropy overrides the draw entropy provider. Passing nil restores the
// keccak default.
func (e *Engine) SetEntropy(entropy Entropy) {
	if entropy == nil {
		e.entropy = KeccakEntropy{}
		return
	}
	e.entropy = entropy
}

// SetPauses wires the governance pause view.
func (e *Engine) SetPauses(p nativecommon.PauseView) { e.pauses = p }

// SetNowFunc overrides the wall-clock source, primarily for tests.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetHeightFunc wires the timeline oracle supplying the current block height.
func (e *Engine) SetHeightFunc(height func() uint64) {
	if height == nil {
		e.heightFn = func() uint64 { return 0 }
		return
	}
	e.heightFn = height
}

// SetConfig installs a new parameter set. The supplied config must carry a
// version exactly one above the current one so concurrent operator updates
// cannot silently overwrite each other.
func (e *Engine) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.Version != e.cfg.Version+1 {
		return fmt.Errorf("mint: config version %d does not follow %d", cfg.Version, e.cfg.Version)
	}
	e.cfg = cfg.Clone()
	return nil
}

// Config returns a copy of the active parameter set.
func (e *Engine) Config() Config { return e.cfg.Clone() }

// SeedPool fills the available pool with token identities 1..MaxSupply. It is
// called once at genesis; reseeding a non-empty pool is rejected.
func (e *Engine) SeedPool() error {
	if len(e.pool) != 0 || e.totalQueuedEver != 0 {
		return fmt.Errorf("mint: pool already seeded")
	}
	e.pool = make([]uint64, 0, e.cfg.MaxSupply)
	for id := uint64(1); id <= e.cfg.MaxSupply; id++ {
		e.pool = append(e.pool, id)
	}
	return e.persist()
}

// QueueLen reports the number of pending requests awaiting a draw.
func (e *Engine) QueueLen() int { return len(e.queue) }

// PoolLen reports the number of unassigned token identities.
func (e *Engine) PoolLen() int { return len(e.pool) }

// MintedInTier reports how many units an identity has minted in a tier.
func (e *Engine) MintedInTier(tier uint8, addr [20]byte) uint32 {
	return e.counters[counterKey(tier, addr)]
}

func counterKey(tier uint8, addr [20]byte) string {
	return fmt.Sprintf("%d:%x", tier, addr)
}

func (e *Engine) emit(evt *types.Event) {
	if e == nil || e.emitter == nil || evt == nil {
		return
	}
	e.emitter.Emit(mintEvent{evt: evt})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) height() uint64 {
	if e == nil || e.heightFn == nil {
		return 0
	}
	return e.heightFn()
}

func (e *Engine) persist() error {
	if e.state == nil {
		return errNilState
	}
	counters := make(map[string]uint32, len(e.counters))
	for k, v := range e.counters {
		counters[k] = v
	}
	snapshot := &Snapshot{
		NextPendingID:    e.nextPendingID,
		Queue:            append([]PendingMint(nil), e.queue...),
		Pool:             append([]uint64(nil), e.pool...),
		Counters:         counters,
		TotalQueuedEver:  e.totalQueuedEver,
		GiveawayConsumed: e.giveawayConsumed,
	}
	return e.state.MintStatePut(snapshot)
}

// Restore loads the persisted ledger snapshot, if any. Called once at boot
// after SetState.
func (e *Engine) Restore() error {
	if e.state == nil {
		return errNilState
	}
	snapshot, ok, err := e.state.MintStateGet()
	if err != nil {
		return err
	}
	if !ok || snapshot == nil {
		return nil
	}
	e.nextPendingID = snapshot.NextPendingID
	e.queue = append([]PendingMint(nil), snapshot.Queue...)
	e.pool = append([]uint64(nil), snapshot.Pool...)
	e.counters = make(map[string]uint32, len(snapshot.Counters))
	for k, v := range snapshot.Counters {
		e.counters[k] = v
	}
	e.totalQueuedEver = snapshot.TotalQueuedEver
	e.giveawayConsumed = snapshot.GiveawayConsumed
	return nil
}

// RequestMint validates and queues a batch of mint demand for the requester.
// payment is the amount the requester remits with the call; anything beyond
// tier price x amount is refunded within the same call. On success the
// (tier, requester) counter advances and amount sequentially numbered pending
// requests join the queue.
func (e *Engine) RequestMint(requester [20]byte, amount uint32, payment *big.Int) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == 0 {
		return ErrZeroAmount
	}
	if payment == nil {
		payment = big.NewInt(0)
	}
	if e.totalQueuedEver+uint64(amount) > e.cfg.MaxSupply {
		return ErrSupplyExhausted
	}

	if requester == e.cfg.GiveawayAccount {
		if e.giveawayConsumed+uint64(amount) > e.cfg.GiveawayBudget {
			return ErrGiveawayExhausted
		}
		// Budget is consumed immediately; a giveaway mint costs nothing and
		// any remitted payment is returned untouched.
		e.giveawayConsumed += uint64(amount)
		e.enqueue(requester, amount, 0, big.NewInt(0))
		return e.persist()
	}

	account, err := e.state.GetAccount(requester[:])
	if err != nil {
		return err
	}
	account = account.EnsureBalances()

	tier := ResolveTier(e.cfg.Tiers, account.MintWhitelist, e.height())
	if tier == 0 {
		return ErrIneligible
	}
	cost := new(big.Int).Mul(e.cfg.Tiers.Price(tier), big.NewInt(int64(amount)))
	if payment.Cmp(cost) < 0 {
		return ErrInsufficientPayment
	}
	key := counterKey(tier, requester)
	if uint64(e.counters[key])+uint64(amount) > uint64(e.cfg.Tiers.Cap(tier)) {
		return ErrCapExceeded
	}
	if account.Balance.Cmp(payment) < 0 {
		return ErrInsufficientFunds
	}

	// Move the full remittance out of the requester's account, credit the
	// treasury with the exact cost and return the change. The refund is a
	// currency transfer in its own right; its failure is fatal, never
	// swallowed.
	account.Balance = new(big.Int).Sub(account.Balance, payment)
	if err := e.state.PutAccount(requester[:], account); err != nil {
		return err
	}
	if err := e.credit(e.cfg.Treasury, cost); err != nil {
		return err
	}
	refund := new(big.Int).Sub(payment, cost)
	if refund.Sign() > 0 {
		if err := e.credit(requester, refund); err != nil {
			return fmt.Errorf("%w: %v", ErrRefundFailed, err)
		}
	}

	e.counters[key] += amount
	e.enqueue(requester, amount, tier, e.cfg.Tiers.Price(tier))
	return e.persist()
}

func (e *Engine) enqueue(requester [20]byte, amount uint32, tier uint8, price *big.Int) {
	for i := uint32(0); i < amount; i++ {
		pending := PendingMint{ID: e.nextPendingID, Requester: requester}
		e.nextPendingID++
		e.totalQueuedEver++
		e.queue = append(e.queue, pending)
		e.emit(events.MintPending{
			PendingID: pending.ID,
			Requester: requester,
			Tier:      tier,
			Price:     price,
		}.Event())
	}
}

func (e *Engine) credit(addr [20]byte, amount *big.Int) error {
	if amount == nil || amount.Sign() == 0 {
		return nil
	}
	account, err := e.state.GetAccount(addr[:])
	if err != nil {
		return err
	}
	account = account.EnsureBalances()
	account.Balance = new(big.Int).Add(account.Balance, amount)
	return e.state.PutAccount(addr[:], account)
}

// ResolveBatch drains up to the configured ceiling of pending requests,
// assigning each a token identity drawn without replacement from the
// available pool. Only the designated oracle may call it. Progress made
// before the ceiling is retained; remaining entries stay queued for the next
// call and the remaining count is returned alongside the processed count.
func (e *Engine) ResolveBatch(caller [20]byte, seed []byte) (processed int, remaining int, err error) {
	if e == nil || e.state == nil {
		return 0, 0, errNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return 0, len(e.queue), err
	}
	if caller != e.cfg.Oracle {
		return 0, len(e.queue), ErrNotOracle
	}

	limit := len(e.queue)
	if limit > e.cfg.BatchCeiling {
		limit = e.cfg.BatchCeiling
	}
	for i := 0; i < limit; i++ {
		if len(e.pool) == 0 {
			return processed, len(e.queue), ErrPoolDrained
		}
		entry := e.queue[0]
		material := e.entropy.Draw(e.height(), e.now(), uint64(len(e.queue)), seed)
		idx := drawIndex(material, len(e.pool))

		tokenID := e.pool[idx]
		last := len(e.pool) - 1
		e.pool[idx] = e.pool[last]
		e.pool = e.pool[:last]

		if err := e.state.MintToken(tokenID, entry.Requester); err != nil {
			return processed, len(e.queue), err
		}

		// The queue is consumed from the front, with the vacated slot filled
		// by the current tail.
		lastQ := len(e.queue) - 1
		e.queue[0] = e.queue[lastQ]
		e.queue = e.queue[:lastQ]

		// Each entry commits individually: a failure later in the batch must
		// not orphan tokens already bound to their requesters.
		if err := e.persist(); err != nil {
			return processed, len(e.queue), err
		}

		e.emit(events.MintCompleted{
			PendingID: entry.ID,
			TokenID:   tokenID,
			Owner:     entry.Requester,
		}.Event())
		processed++
	}
	return processed, len(e.queue), nil
}
