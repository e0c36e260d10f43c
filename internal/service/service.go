package service

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"tokokasir/backend/internal/auth"
	"tokokasir/backend/internal/bill"
	"tokokasir/backend/internal/discount"
	"tokokasir/backend/internal/domain"
	"tokokasir/backend/internal/events"
	"tokokasir/backend/internal/money"
	"tokokasir/backend/internal/payment"
	"tokokasir/backend/internal/pricing"
	"tokokasir/backend/internal/receipt"
	"tokokasir/backend/internal/store"
	"tokokasir/backend/internal/transaction"
)

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	Repo     store.Repository
	Items    store.ItemStore
	Receipts receipt.Writer
	Payments transaction.Payer
	Pricing  *pricing.Engine
	Events   events.Publisher
	Numbers  transaction.BillNumbers
	Logger   *zap.Logger

	BatchDiscounts bool
	SkipExpired    bool
}

type TotalsView struct {
	Subtotal     money.Money `json:"subtotal"`
	Discount     money.Money `json:"discount"`
	DiscountCode string      `json:"discount_code,omitempty"`
	Tax          money.Money `json:"tax"`
	Total        money.Money `json:"total"`
}

type BillView struct {
	TerminalID string             `json:"terminal_id"`
	Channel    domain.Channel     `json:"channel"`
	State      string             `json:"state"`
	SignedIn   string             `json:"signed_in,omitempty"`
	Bill       *domain.BillRecord `json:"bill,omitempty"`
	Totals     *TotalsView        `json:"totals,omitempty"`
}

type PaymentView struct {
	BillView
	Method     string      `json:"payment_method"`
	Paid       money.Money `json:"amount_paid"`
	Change     money.Money `json:"change"`
	CardSuffix string      `json:"card_suffix,omitempty"`
}

type terminal struct {
	mu      sync.Mutex
	ctrl    *transaction.Controller
	session *auth.Session
}

// Service keeps one checkout controller per terminal. A terminal gets a
// fresh controller when it has none or its last transaction completed.
type Service struct {
	opts      Options
	logger    *zap.Logger
	mu        sync.Mutex
	terminals map[string]*terminal
}

func New(opts Options) *Service {
	if opts.Items == nil {
		opts.Items = opts.Repo
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		opts:      opts,
		logger:    opts.Logger.Named("service"),
		terminals: make(map[string]*terminal),
	}
}

func (s *Service) ListItems(ctx context.Context) ([]domain.Item, error) {
	return s.opts.Repo.ListItems(ctx)
}

func (s *Service) terminal(id string) (*terminal, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: terminal id is required", domain.ErrValidation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.terminals[id]
	if !ok {
		t = &terminal{session: auth.NewSession(s.opts.Repo)}
		s.terminals[id] = t
	}
	return t, nil
}

// newController opens a controller for the terminal. Bills are attributed to
// the operator signed in at the terminal, else to the request actor.
func (s *Service) newController(ctx context.Context, t *terminal, channel domain.Channel) (*transaction.Controller, error) {
	operator := ""
	if actor, ok := t.session.CurrentActor(ctx); ok {
		operator = actor.Username
	} else if actor, ok := ActorFromContext(ctx); ok {
		operator = actor.Username
	}
	return transaction.New(transaction.Config{
		Items:          s.opts.Items,
		Ledger:         s.opts.Repo,
		Bills:          s.opts.Repo,
		Receipts:       s.opts.Receipts,
		Payments:       s.opts.Payments,
		Pricing:        s.opts.Pricing,
		Events:         s.opts.Events,
		Numbers:        s.opts.Numbers,
		Logger:         s.opts.Logger,
		Channel:        channel,
		Operator:       operator,
		BatchDiscounts: s.opts.BatchDiscounts,
		SkipExpired:    s.opts.SkipExpired,
	})
}

func view(ctx context.Context, id string, t *terminal) (BillView, error) {
	v := BillView{TerminalID: id, Channel: domain.ChannelPOS, State: transaction.Empty.String()}
	if actor, ok := t.session.CurrentActor(ctx); ok {
		v.SignedIn = actor.Username
	}
	ctrl := t.ctrl
	if ctrl == nil {
		return v, nil
	}
	v.Channel = ctrl.Channel()
	v.State = ctrl.State().String()
	if rec, ok := ctrl.Snapshot(); ok {
		v.Bill = &rec
	}
	totals, ok, err := ctrl.Quote(ctx)
	if err != nil {
		return BillView{}, fmt.Errorf("quote terminal %s: %w", id, err)
	}
	if ok {
		v.Totals = totalsView(totals)
	}
	return v, nil
}

func totalsView(t bill.Totals) *TotalsView {
	return &TotalsView{
		Subtotal:     t.Subtotal,
		Discount:     t.Discount,
		DiscountCode: t.DiscountCode,
		Tax:          t.Tax,
		Total:        t.Total,
	}
}

func (s *Service) Bill(ctx context.Context, terminalID string) (BillView, error) {
	t, err := s.terminal(terminalID)
	if err != nil {
		return BillView{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return view(ctx, terminalID, t)
}

func (s *Service) AddItem(ctx context.Context, terminalID string, channel domain.Channel, code string, qty int) (BillView, error) {
	switch channel {
	case "":
		channel = domain.ChannelPOS
	case domain.ChannelPOS, domain.ChannelOnline:
	default:
		return BillView{}, fmt.Errorf("%w: unknown channel %q", domain.ErrValidation, channel)
	}

	t, err := s.terminal(terminalID)
	if err != nil {
		return BillView{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ctrl != nil {
		switch t.ctrl.State() {
		case transaction.Completed:
			t.ctrl = nil
		case transaction.Empty:
			if t.ctrl.Channel() != channel {
				t.ctrl = nil
			}
		default:
			if t.ctrl.Channel() != channel {
				return BillView{}, fmt.Errorf("%w: terminal %s is selling on %s, not %s", domain.ErrValidation, terminalID, t.ctrl.Channel(), channel)
			}
		}
	}
	if t.ctrl == nil {
		ctrl, err := s.newController(ctx, t, channel)
		if err != nil {
			return BillView{}, err
		}
		t.ctrl = ctrl
	}
	if err := t.ctrl.AddItem(ctx, code, qty); err != nil {
		return BillView{}, err
	}
	return view(ctx, terminalID, t)
}

func (s *Service) RemoveItem(ctx context.Context, terminalID string, code string) (BillView, error) {
	t, err := s.terminal(terminalID)
	if err != nil {
		return BillView{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ctrl == nil {
		return BillView{}, fmt.Errorf("%w: terminal %s has no open bill", domain.ErrIllegalState, terminalID)
	}
	if err := t.ctrl.RemoveItem(ctx, code); err != nil {
		return BillView{}, err
	}
	return view(ctx, terminalID, t)
}

func (s *Service) Pay(ctx context.Context, terminalID string, req payment.Request) (PaymentView, error) {
	t, err := s.terminal(terminalID)
	if err != nil {
		return PaymentView{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ctrl == nil {
		return PaymentView{}, fmt.Errorf("%w: terminal %s has no open bill", domain.ErrIllegalState, terminalID)
	}
	p, err := t.ctrl.ProcessPayment(ctx, req)
	if err != nil {
		return PaymentView{}, err
	}
	v, err := view(ctx, terminalID, t)
	if err != nil {
		return PaymentView{}, err
	}
	return PaymentView{
		BillView:   v,
		Method:     p.Method,
		Paid:       p.Paid,
		Change:     p.Change,
		CardSuffix: p.CardSuffix,
	}, nil
}

func (s *Service) Finalize(ctx context.Context, terminalID string) (domain.BillRecord, error) {
	t, err := s.terminal(terminalID)
	if err != nil {
		return domain.BillRecord{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ctrl == nil {
		return domain.BillRecord{}, fmt.Errorf("%w: terminal %s has no paid bill", domain.ErrIllegalState, terminalID)
	}
	return t.ctrl.Finalize(ctx)
}

// Reset abandons whatever the terminal holds. Reservations were never
// committed, so the ledger is unaffected.
func (s *Service) Reset(_ context.Context, terminalID string) error {
	t, err := s.terminal(terminalID)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ctrl != nil && t.ctrl.State() == transaction.Paid {
		s.logger.Warn("resetting terminal with a paid, unfinalized bill", zap.String("terminal", terminalID))
	}
	t.ctrl = nil
	return nil
}

// SignIn puts an operator on the terminal. A failed attempt keeps whoever
// was signed in before.
func (s *Service) SignIn(ctx context.Context, terminalID string, username string, password string) (BillView, error) {
	t, err := s.terminal(terminalID)
	if err != nil {
		return BillView{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	actor, err := t.session.Login(ctx, username, password)
	if err != nil {
		return BillView{}, err
	}
	s.logger.Info("operator signed in", zap.String("terminal", terminalID), zap.String("username", actor.Username))
	return view(ctx, terminalID, t)
}

// SignOut clears the terminal's operator. An open bill keeps the operator it
// was opened under.
func (s *Service) SignOut(ctx context.Context, terminalID string) (BillView, error) {
	t, err := s.terminal(terminalID)
	if err != nil {
		return BillView{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	t.session.Logout()
	return view(ctx, terminalID, t)
}

func (s *Service) guarded(ctx context.Context) *auth.GuardedLedger {
	actor, _ := ActorFromContext(ctx)
	return auth.NewGuardedLedger(s.opts.Repo, auth.StaticActor(actor))
}

func (s *Service) Transfer(ctx context.Context, transfer domain.StockTransfer) error {
	actor, _ := ActorFromContext(ctx)
	return s.transfer(ctx, auth.NewGuardedLedger(s.opts.Repo, auth.StaticActor(actor)), transfer)
}

// TerminalTransfer moves stock on the authority of the operator signed in at
// the terminal rather than the caller.
func (s *Service) TerminalTransfer(ctx context.Context, terminalID string, transfer domain.StockTransfer) error {
	t, err := s.terminal(terminalID)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return s.transfer(ctx, auth.NewGuardedLedger(s.opts.Repo, t.session), transfer)
}

func (s *Service) transfer(ctx context.Context, ledger *auth.GuardedLedger, transfer domain.StockTransfer) error {
	transfer.ItemCode = strings.ToUpper(strings.TrimSpace(transfer.ItemCode))
	if transfer.ItemCode == "" {
		return fmt.Errorf("%w: item code is required", domain.ErrValidation)
	}
	if err := ledger.Transfer(ctx, transfer); err != nil {
		return err
	}
	s.logger.Info("stock transferred",
		zap.String("item", transfer.ItemCode),
		zap.String("from", string(transfer.From)),
		zap.String("to", string(transfer.To)),
		zap.Int("qty", transfer.Qty),
	)
	return nil
}

func (s *Service) SaveBatchDiscount(ctx context.Context, rec domain.BatchDiscountRecord) (domain.BatchDiscountRecord, error) {
	d, err := discount.FromRecord(rec)
	if err != nil {
		return domain.BatchDiscountRecord{}, err
	}
	saved, err := s.guarded(ctx).SaveBatchDiscount(ctx, d.Record())
	if err != nil {
		return domain.BatchDiscountRecord{}, err
	}
	return *saved, nil
}

func (s *Service) RegisterUser(ctx context.Context, username string, password string, role string) (domain.UserAccount, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.UserAccount{}, fmt.Errorf("%w: admin role required", domain.ErrPermissionDenied)
	}
	account, err := auth.Register(ctx, s.opts.Repo, username, password, role)
	if err != nil {
		return domain.UserAccount{}, err
	}
	account.Password = ""
	return account, nil
}
