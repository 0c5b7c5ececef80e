package checkout

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"storefront-service/models"
)

type State string

const (
	StateCart       State = "cart"
	StateConfirming State = "confirming"
	StatePlacing    State = "placing"
	StateSuccess    State = "success"
	StateCancelled  State = "cancelled"
	StateFailed     State = "failed"
)

type FormFactor string

const (
	// FormDesktop asks for an explicit confirmation before placing.
	FormDesktop FormFactor = "desktop"
	// FormMobile places the order when the slider is dragged to the end.
	FormMobile FormFactor = "mobile"
)

func ParseFormFactor(s string) FormFactor {
	if FormFactor(s) == FormMobile {
		return FormMobile
	}
	return FormDesktop
}

var (
	ErrInvalidTransition = errors.New("action not allowed in current checkout state")
	ErrCancelUnavailable = errors.New("order can no longer be cancelled")
	ErrSlideRequired     = errors.New("slide to place the order")
)

// ProgressSteps are shown one after another while an order is being placed.
var ProgressSteps = []string{
	"Preparing your order...",
	"Selecting quality products...",
	"Processing from farm to you...",
	"Finalizing delivery details...",
}

const (
	DefaultProcessingWindow  = 5 * time.Second
	DefaultRedirectCountdown = 5 * time.Second
	DefaultSlideThreshold    = 0.95
)

type SessionConfig struct {
	FormFactor          FormFactor
	CancellationEnabled bool
	// ProcessingWindow is the minimum time spent in StatePlacing.
	ProcessingWindow time.Duration
	// DispatchDelay is how long submission waits after entering
	// StatePlacing; a cancel inside it means nothing is submitted. Zero
	// means the whole processing window when cancellation is enabled and no
	// wait otherwise. Negative submits immediately.
	DispatchDelay     time.Duration
	RedirectCountdown time.Duration
	SlideThreshold    float64
}

func (c SessionConfig) withDefaults() SessionConfig {
	if c.FormFactor == "" {
		c.FormFactor = FormDesktop
	}
	if c.ProcessingWindow <= 0 {
		c.ProcessingWindow = DefaultProcessingWindow
	}
	switch {
	case c.DispatchDelay < 0:
		c.DispatchDelay = 0
	case c.DispatchDelay == 0 && c.CancellationEnabled:
		c.DispatchDelay = c.ProcessingWindow
	}
	if c.RedirectCountdown <= 0 {
		c.RedirectCountdown = DefaultRedirectCountdown
	}
	if c.SlideThreshold <= 0 || c.SlideThreshold > 1 {
		c.SlideThreshold = DefaultSlideThreshold
	}
	return c
}

// CartSource is the cart a session checks out.
type CartSource interface {
	Items() []models.CartItem
	RemoveOrdered(ctx context.Context, lines []models.StockLine) error
}

type CustomerValidator interface {
	Validate(ctx context.Context, userID string, items []models.CartItem) (*Customer, error)
}

type OrderPlacer interface {
	Place(ctx context.Context, customer *Customer, items []models.CartItem) (*Result, error)
}

type Transition struct {
	From   State
	To     State
	Reason string
}

type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type Progress struct {
	Step    int    `json:"step"`
	Label   string `json:"label"`
	Percent int    `json:"percent"`
}

// Snapshot is the session as a client renders it.
type Snapshot struct {
	State               State      `json:"state"`
	FormFactor          FormFactor `json:"formFactor"`
	CancellationEnabled bool       `json:"cancellationEnabled"`
	SliderPosition      float64    `json:"sliderPosition"`
	Progress            *Progress  `json:"progress,omitempty"`
	Error               *ErrorInfo `json:"error,omitempty"`
	OrderIDs            []string   `json:"orderIds,omitempty"`
	Partial             bool       `json:"partial,omitempty"`
	RedirectInSeconds   int        `json:"redirectInSeconds,omitempty"`
}

// Session drives one device through cart, confirmation, placing and the
// outcome. Items leave the cart only when they became an order.
type Session struct {
	cfg       SessionConfig
	cart      CartSource
	validator CustomerValidator
	placer    OrderPlacer
	observers []func(Transition)
	logger    *zap.Logger

	mu        sync.Mutex
	pending   []Transition
	state     State
	userID    string
	customer  *Customer
	err       *ErrorInfo
	result    *Result
	slider    float64
	attempt   int
	cancel    context.CancelFunc
	done      chan struct{}
	started   time.Time
	successAt time.Time
	redirect  *time.Timer
}

func NewSession(cfg SessionConfig, cart CartSource, validator CustomerValidator, placer OrderPlacer, logger *zap.Logger, observers ...func(Transition)) *Session {
	return &Session{
		cfg:       cfg.withDefaults(),
		cart:      cart,
		validator: validator,
		placer:    placer,
		observers: observers,
		logger:    logger.Named("checkout"),
		state:     StateCart,
	}
}

func (s *Session) unlock() {
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()
	for _, t := range pending {
		for _, o := range s.observers {
			o(t)
		}
	}
}

// moveTo changes state. Callers hold s.mu.
func (s *Session) moveTo(to State, reason string) {
	from := s.state
	s.state = to
	s.pending = append(s.pending, Transition{From: from, To: to, Reason: reason})
	s.logger.Debug("checkout transition",
		zap.String("from", string(from)), zap.String("to", string(to)), zap.String("reason", reason))
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetFormFactor switches between desktop and mobile while the buyer is
// still editing the cart.
func (s *Session) SetFormFactor(f FormFactor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateCart {
		s.cfg.FormFactor = f
	}
}

// reopen returns to the cart from an outcome the buyer may retry from.
// Callers hold s.mu.
func (s *Session) reopen() bool {
	switch s.state {
	case StateCart:
	case StateFailed, StateCancelled:
		s.moveTo(StateCart, "retry")
	default:
		return false
	}
	s.err = nil
	s.slider = 0
	return true
}

// validate runs the checkout checks and attaches the failure, if any, to
// the session. Callers hold s.mu.
func (s *Session) validate(ctx context.Context, userID string) ([]models.CartItem, error) {
	items := s.cart.Items()
	customer, err := s.validator.Validate(ctx, userID, items)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			s.err = &ErrorInfo{Code: verr.Code, Message: verr.Message}
		} else {
			s.err = &ErrorInfo{Code: "validation_unavailable", Message: "Could not verify your order. Please try again."}
		}
		return nil, err
	}
	s.userID = userID
	s.customer = customer
	return items, nil
}

// Checkout starts the desktop flow: validate, then ask for confirmation.
func (s *Session) Checkout(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.unlock()
	if s.cfg.FormFactor == FormMobile {
		return ErrSlideRequired
	}
	if !s.reopen() {
		return ErrInvalidTransition
	}
	if _, err := s.validate(ctx, userID); err != nil {
		s.moveTo(StateCart, "validation_failed")
		return err
	}
	s.moveTo(StateConfirming, "validated")
	return nil
}

// Confirm places the order after the desktop confirmation.
func (s *Session) Confirm(ctx context.Context) error {
	s.mu.Lock()
	defer s.unlock()
	if s.state != StateConfirming {
		return ErrInvalidTransition
	}
	// stock may have moved while the dialog was open
	items, err := s.validate(ctx, s.userID)
	if err != nil {
		s.moveTo(StateCart, "validation_failed")
		return err
	}
	s.startPlacing(items, "confirmed")
	return nil
}

// Review leaves the confirmation, or a failed or cancelled attempt, and
// goes back to editing the cart.
func (s *Session) Review() error {
	s.mu.Lock()
	defer s.unlock()
	switch s.state {
	case StateConfirming, StateFailed, StateCancelled:
		s.moveTo(StateCart, "review")
		s.slider = 0
		return nil
	}
	return ErrInvalidTransition
}

// Slide records the slider position on mobile. Reaching the threshold
// validates the cart and places the order; a failed validation snaps the
// slider back.
func (s *Session) Slide(ctx context.Context, userID string, position float64) error {
	s.mu.Lock()
	defer s.unlock()
	if s.cfg.FormFactor != FormMobile {
		return ErrInvalidTransition
	}
	if !s.reopen() {
		return ErrInvalidTransition
	}
	s.slider = math.Max(0, math.Min(1, position))
	if s.slider < s.cfg.SlideThreshold {
		return nil
	}
	items, err := s.validate(ctx, userID)
	if err != nil {
		s.slider = 0
		s.moveTo(StateCart, "validation_failed")
		return err
	}
	s.slider = 1
	s.startPlacing(items, "slide_completed")
	return nil
}

// ReleaseSlider snaps an unfinished slide back to the start.
func (s *Session) ReleaseSlider() {
	s.mu.Lock()
	defer s.unlock()
	if s.state == StateCart {
		s.slider = 0
	}
}

// startPlacing enters StatePlacing and runs the submission in the
// background. Callers hold s.mu.
func (s *Session) startPlacing(items []models.CartItem, reason string) {
	s.err = nil
	s.result = nil
	s.attempt++
	s.started = time.Now()
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.moveTo(StatePlacing, reason)
	go s.run(ctx, s.attempt, s.started, s.customer, items, s.done)
}

func (s *Session) run(ctx context.Context, attempt int, started time.Time, customer *Customer, items []models.CartItem, done chan struct{}) {
	defer close(done)

	if !sleepCtx(ctx, s.cfg.DispatchDelay) {
		s.logger.Info("checkout cancelled before submission")
		return
	}
	result, err := s.placer.Place(ctx, customer, items)

	// the progress animation always runs its full length
	sleepCtx(ctx, time.Until(started.Add(s.cfg.ProcessingWindow)))
	s.finish(attempt, result, err)
}

func (s *Session) finish(attempt int, result *Result, err error) {
	s.mu.Lock()
	defer s.unlock()
	if attempt != s.attempt || s.state != StatePlacing {
		if result != nil && len(result.OrderIDs()) > 0 {
			s.logger.Warn("orders were placed after the checkout was cancelled",
				zap.Strings("order_ids", result.OrderIDs()))
		}
		return
	}
	s.cancel()
	s.result = result

	if err != nil {
		s.logger.Error("checkout failed", zap.String("user_id", s.userID), zap.Error(err))
		s.err = &ErrorInfo{Code: "submission_failed", Message: "Failed to place order. Please try again."}
		s.moveTo(StateFailed, "submission_failed")
		// the buyer is back in the cart with the error attached
		s.moveTo(StateCart, "failure_reported")
		s.slider = 0
		return
	}

	// only what became an order leaves the cart
	var ordered []models.StockLine
	for _, o := range result.Orders() {
		ordered = append(ordered, o.StockLines()...)
	}
	if cerr := s.cart.RemoveOrdered(context.Background(), ordered); cerr != nil {
		s.logger.Warn("failed to clear ordered items from cart", zap.Error(cerr))
	}
	if result.Partial() {
		s.logger.Warn("checkout completed with partial failures", zap.Strings("order_ids", result.OrderIDs()))
	}
	s.successAt = time.Now()
	s.moveTo(StateSuccess, "placed")
	s.redirect = time.AfterFunc(s.cfg.RedirectCountdown, func() { s.expireSuccess(attempt) })
}

func (s *Session) expireSuccess(attempt int) {
	s.mu.Lock()
	defer s.unlock()
	if attempt != s.attempt || s.state != StateSuccess {
		return
	}
	s.moveTo(StateCart, "redirect")
}

// Cancel aborts the order being placed. It is offered only within the
// processing window and only when cancellation is enabled. Orders already
// submitted are not recalled.
func (s *Session) Cancel() error {
	s.mu.Lock()
	defer s.unlock()
	if s.state != StatePlacing {
		return ErrInvalidTransition
	}
	if !s.cfg.CancellationEnabled || time.Since(s.started) >= s.cfg.ProcessingWindow {
		return ErrCancelUnavailable
	}
	s.cancel()
	s.moveTo(StateCancelled, "cancelled")
	return nil
}

// ViewOrders leaves the success screen without waiting for the countdown.
// It returns the ids of the orders just placed.
func (s *Session) ViewOrders() ([]string, error) {
	s.mu.Lock()
	defer s.unlock()
	if s.state != StateSuccess {
		return nil, ErrInvalidTransition
	}
	if s.redirect != nil {
		s.redirect.Stop()
	}
	s.moveTo(StateCart, "view_orders")
	return s.result.OrderIDs(), nil
}

// Await blocks until the current placing attempt has settled.
func (s *Session) Await(ctx context.Context) (Snapshot, error) {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return s.Snapshot(), ctx.Err()
		}
	}
	return s.Snapshot(), nil
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		State:               s.state,
		FormFactor:          s.cfg.FormFactor,
		CancellationEnabled: s.cfg.CancellationEnabled,
		SliderPosition:      s.slider,
		Error:               s.err,
	}
	if s.result != nil {
		snap.OrderIDs = s.result.OrderIDs()
		snap.Partial = s.result.Partial()
	}
	switch s.state {
	case StatePlacing:
		snap.Progress = progressAt(time.Since(s.started), s.cfg.ProcessingWindow)
	case StateSuccess:
		left := time.Until(s.successAt.Add(s.cfg.RedirectCountdown))
		snap.RedirectInSeconds = int(math.Ceil(math.Max(0, left.Seconds())))
	}
	return snap
}

// Close stops the redirect countdown.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.redirect != nil {
		s.redirect.Stop()
	}
}

func progressAt(elapsed, window time.Duration) *Progress {
	pct := 100
	if window > 0 && elapsed < window {
		pct = int(elapsed * 100 / window)
	}
	step := pct * len(ProgressSteps) / 100
	if step >= len(ProgressSteps) {
		step = len(ProgressSteps) - 1
	}
	return &Progress{Step: step + 1, Label: ProgressSteps[step], Percent: pct}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
