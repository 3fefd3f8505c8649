package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"checkout-service/internal/models"
	"checkout-service/internal/shipping"
	"checkout-service/internal/store"
)

// memStore is an in-memory store.Transactor. WithTx serializes transactions
// and restores a snapshot when fn fails, mirroring a rollback.
type memStore struct {
	txMu sync.Mutex
	mu   sync.Mutex
	d    *memData
	// failOn injects an error into the named method.
	failOn map[string]error
	// stockCalls records DecrementStock product ids in call order.
	stockCalls []int64
}

type memData struct {
	seq           int64
	products      map[int64]models.Product
	users         map[int64]models.User
	cart          map[int64]models.CartLine
	vouchers      map[string]models.Voucher
	orders        map[int64]models.Order
	orderLines    []models.OrderLine
	shippings     map[int64]models.Shipping
	payments      map[int64]models.Payment
	gatewayTxns   []models.GatewayTransaction
	notifications []models.Notification
	events        map[string]string
}

var _ store.Transactor = (*memStore)(nil)

func newMemStore() *memStore {
	return &memStore{
		d: &memData{
			products:  map[int64]models.Product{},
			users:     map[int64]models.User{},
			cart:      map[int64]models.CartLine{},
			vouchers:  map[string]models.Voucher{},
			orders:    map[int64]models.Order{},
			shippings: map[int64]models.Shipping{},
			payments:  map[int64]models.Payment{},
			events:    map[string]string{},
		},
		failOn: map[string]error{},
	}
}

func (d *memData) clone() *memData {
	c := &memData{
		seq:           d.seq,
		products:      make(map[int64]models.Product, len(d.products)),
		users:         make(map[int64]models.User, len(d.users)),
		cart:          make(map[int64]models.CartLine, len(d.cart)),
		vouchers:      make(map[string]models.Voucher, len(d.vouchers)),
		orders:        make(map[int64]models.Order, len(d.orders)),
		orderLines:    append([]models.OrderLine(nil), d.orderLines...),
		shippings:     make(map[int64]models.Shipping, len(d.shippings)),
		payments:      make(map[int64]models.Payment, len(d.payments)),
		gatewayTxns:   append([]models.GatewayTransaction(nil), d.gatewayTxns...),
		notifications: append([]models.Notification(nil), d.notifications...),
		events:        make(map[string]string, len(d.events)),
	}
	for k, v := range d.products {
		c.products[k] = v
	}
	for k, v := range d.users {
		c.users[k] = v
	}
	for k, v := range d.cart {
		c.cart[k] = v
	}
	for k, v := range d.vouchers {
		c.vouchers[k] = v
	}
	for k, v := range d.orders {
		c.orders[k] = v
	}
	for k, v := range d.shippings {
		c.shippings[k] = v
	}
	for k, v := range d.payments {
		c.payments[k] = v
	}
	for k, v := range d.events {
		c.events[k] = v
	}
	return c
}

func (s *memStore) WithTx(ctx context.Context, fn func(tx store.Repository) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snapshot := s.d.clone()
	s.mu.Unlock()

	if err := fn(s); err != nil {
		s.mu.Lock()
		s.d = snapshot
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *memStore) fail(method string) error {
	return s.failOn[method]
}

func (s *memStore) nextID() int64 {
	s.d.seq++
	return s.d.seq
}

// seeding helpers

func (s *memStore) addUser(name string, points int) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID()
	s.d.users[id] = models.User{ID: id, Name: name, Points: points}
	return id
}

func (s *memStore) addProduct(p models.Product) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.nextID()
	s.d.products[p.ID] = p
	return p.ID
}

func (s *memStore) addVoucher(v models.Voucher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v.ID = s.nextID()
	s.d.vouchers[v.Code] = v
}

func (s *memStore) user(id int64) models.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.users[id]
}

func (s *memStore) product(id int64) models.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.products[id]
}

func (s *memStore) order(id int64) models.Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.d.orders[id]
}

func (s *memStore) setOrderCreatedAt(id int64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.d.orders[id]
	o.CreatedAt = at
	s.d.orders[id] = o
}

func (s *memStore) counts() (orders, payments, shippings, lines, cart int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.d.orders), len(s.d.payments), len(s.d.shippings), len(s.d.orderLines), len(s.d.cart)
}

func (s *memStore) inboundTxns() []models.GatewayTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.GatewayTransaction
	for _, t := range s.d.gatewayTxns {
		if t.Direction == models.DirectionInbound {
			out = append(out, t)
		}
	}
	return out
}

// Repository

func (s *memStore) GetProduct(_ context.Context, id int64) (*models.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.d.products[id]
	if !ok {
		return nil, store.ErrNotFound.Withf("store: product %d not found", id)
	}
	return &p, nil
}

func (s *memStore) DecrementStock(_ context.Context, productID int64, quantity int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.d.products[productID]
	if !ok {
		return 0, store.ErrNotFound
	}
	s.stockCalls = append(s.stockCalls, productID)
	before := p.Stock
	p.Stock -= quantity
	if p.Stock < 0 {
		p.Stock = 0
	}
	s.d.products[productID] = p
	return before, nil
}

func (s *memStore) cartLines(userID int64) []models.CartLine {
	var out []models.CartLine
	for _, l := range s.d.cart {
		if l.UserID == userID {
			l.ProductName = s.d.products[l.ProductID].Name
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *memStore) GetCartLines(_ context.Context, userID int64) ([]models.CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cartLines(userID), nil
}

func (s *memStore) GetCartLinesForUpdate(_ context.Context, userID int64) ([]models.CartLine, error) {
	if err := s.fail("GetCartLinesForUpdate"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cartLines(userID), nil
}

func (s *memStore) GetCartLine(_ context.Context, userID, lineID int64) (*models.CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.d.cart[lineID]
	if !ok || l.UserID != userID {
		return nil, store.ErrNotFound
	}
	return &l, nil
}

func (s *memStore) FindCartLine(_ context.Context, userID, productID int64, bonusOf *int64) (*models.CartLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.d.cart {
		if l.UserID != userID || l.ProductID != productID {
			continue
		}
		if (l.BonusOf == nil) != (bonusOf == nil) {
			continue
		}
		if bonusOf != nil && *l.BonusOf != *bonusOf {
			continue
		}
		return &l, nil
	}
	return nil, nil
}

func (s *memStore) InsertCartLine(_ context.Context, line *models.CartLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	line.ID = s.nextID()
	line.CreatedAt = time.Now()
	s.d.cart[line.ID] = *line
	return nil
}

func (s *memStore) UpdateCartLine(_ context.Context, lineID int64, quantity int, unitPrice int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l := s.d.cart[lineID]
	l.Quantity = quantity
	l.UnitPrice = unitPrice
	s.d.cart[lineID] = l
	return nil
}

func (s *memStore) DeleteCartLine(_ context.Context, userID, lineID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.d.cart[lineID]; ok && l.UserID == userID {
		delete(s.d.cart, lineID)
	}
	return nil
}

func (s *memStore) DeleteBonusLines(_ context.Context, userID, parentProductID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, l := range s.d.cart {
		if l.UserID == userID && l.BonusOf != nil && *l.BonusOf == parentProductID {
			delete(s.d.cart, id)
		}
	}
	return nil
}

func (s *memStore) DeleteCartLines(_ context.Context, userID int64, lineIDs []int64) (int64, error) {
	if err := s.fail("DeleteCartLines"); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range lineIDs {
		if l, ok := s.d.cart[id]; ok && l.UserID == userID {
			delete(s.d.cart, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) ClearCart(_ context.Context, userID int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, l := range s.d.cart {
		if l.UserID == userID {
			delete(s.d.cart, id)
			n++
		}
	}
	return n, nil
}

func (s *memStore) GetUser(_ context.Context, id int64) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.d.users[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &u, nil
}

func (s *memStore) LockUser(ctx context.Context, id int64) (*models.User, error) {
	return s.GetUser(ctx, id)
}

func (s *memStore) AdjustPoints(_ context.Context, userID int64, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.d.users[userID]
	if !ok || u.Points+delta < 0 {
		return store.ErrInsufficientPoints
	}
	u.Points += delta
	s.d.users[userID] = u
	return nil
}

func (s *memStore) GetVoucherByCode(_ context.Context, code string) (*models.Voucher, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.d.vouchers[code]
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func (s *memStore) InsertOrder(_ context.Context, order *models.Order) error {
	if err := s.fail("InsertOrder"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	order.ID = s.nextID()
	order.CreatedAt = time.Now()
	order.UpdatedAt = order.CreatedAt
	s.d.orders[order.ID] = *order
	return nil
}

func (s *memStore) InsertOrderLine(_ context.Context, line *models.OrderLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	line.ID = s.nextID()
	s.d.orderLines = append(s.d.orderLines, *line)
	return nil
}

func (s *memStore) GetOrder(_ context.Context, id int64) (*models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.d.orders[id]
	if !ok {
		return nil, store.ErrNotFound.Withf("store: order %d not found", id)
	}
	return &o, nil
}

func (s *memStore) LockOrder(ctx context.Context, id int64) (*models.Order, error) {
	return s.GetOrder(ctx, id)
}

func (s *memStore) GetOrderLines(_ context.Context, orderID int64) ([]models.OrderLine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.OrderLine{}
	for _, l := range s.d.orderLines {
		if l.OrderID == orderID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *memStore) UpdateOrderStatus(_ context.Context, orderID int64, status models.OrderStatus, paidAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.d.orders[orderID]
	o.Status = status
	if paidAt != nil {
		o.PaidAt = paidAt
	}
	s.d.orders[orderID] = o
	return nil
}

func (s *memStore) ListOrdersByUser(_ context.Context, userID int64) ([]models.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Order{}
	for _, o := range s.d.orders {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *memStore) InsertShipping(_ context.Context, sh *models.Shipping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh.ID = s.nextID()
	s.d.shippings[sh.OrderID] = *sh
	return nil
}

func (s *memStore) GetShipping(_ context.Context, orderID int64) (*models.Shipping, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.d.shippings[orderID]
	if !ok {
		return nil, nil
	}
	return &sh, nil
}

func (s *memStore) InsertPayment(_ context.Context, p *models.Payment) error {
	if err := s.fail("InsertPayment"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	p.ID = s.nextID()
	s.d.payments[p.OrderID] = *p
	return nil
}

func (s *memStore) GetPaymentByOrder(_ context.Context, orderID int64) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.d.payments[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (s *memStore) UpdatePaymentStatus(_ context.Context, orderID int64, status models.PaymentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.d.payments[orderID]
	if ok && p.Status == models.PaymentStatusPending {
		p.Status = status
		s.d.payments[orderID] = p
	}
	return nil
}

func (s *memStore) InsertGatewayTransaction(_ context.Context, t *models.GatewayTransaction) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.Direction == models.DirectionInbound && t.TransactionID != nil {
		for _, e := range s.d.gatewayTxns {
			if e.Direction == models.DirectionInbound && e.Gateway == t.Gateway &&
				e.TransactionID != nil && *e.TransactionID == *t.TransactionID {
				return false, nil
			}
		}
	}
	t.ID = s.nextID()
	t.CreatedAt = time.Now()
	s.d.gatewayTxns = append(s.d.gatewayTxns, *t)
	return true, nil
}

func (s *memStore) GetGatewayTransactions(_ context.Context, orderID int64) ([]models.GatewayTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.GatewayTransaction{}
	for _, t := range s.d.gatewayTxns {
		if t.OrderID == orderID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memStore) InsertNotification(_ context.Context, n *models.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n.ID = s.nextID()
	s.d.notifications = append(s.d.notifications, *n)
	return nil
}

func (s *memStore) ListNotifications(_ context.Context, channel string, limit int) ([]models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []models.Notification{}
	for i := len(s.d.notifications) - 1; i >= 0 && len(out) < limit; i-- {
		if s.d.notifications[i].Channel == channel {
			out = append(out, s.d.notifications[i])
		}
	}
	return out, nil
}

func (s *memStore) IsEventProcessed(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.d.events[eventID]
	return ok, nil
}

func (s *memStore) MarkEventProcessed(_ context.Context, eventID, eventType string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.d.events[eventID] = eventType
	return nil
}

// collaborators

type recordingPublisher struct {
	mu      sync.Mutex
	placed  []*models.OrderPlacedEvent
	paid    []*models.OrderPaidEvent
	changed []*models.OrderStatusChangedEvent
	err     error
}

func (p *recordingPublisher) PublishOrderPlaced(_ context.Context, e *models.OrderPlacedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.placed = append(p.placed, e)
	return p.err
}

func (p *recordingPublisher) PublishOrderPaid(_ context.Context, e *models.OrderPaidEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paid = append(p.paid, e)
	return p.err
}

func (p *recordingPublisher) PublishOrderStatusChanged(_ context.Context, e *models.OrderStatusChangedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changed = append(p.changed, e)
	return p.err
}

type notice struct {
	channel, message, link string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notice
}

func (n *recordingNotifier) Notify(_ context.Context, channel, message, link, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notice{channel, message, link})
}

func (n *recordingNotifier) messages() []notice {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notice(nil), n.sent...)
}

type stubQuoter struct {
	quote *shipping.Quote
	err   error
	calls int
}

func (q *stubQuoter) Quote(_ context.Context, dest shipping.Coordinate) (*shipping.Quote, error) {
	q.calls++
	if err := dest.Validate(); err != nil {
		return nil, err
	}
	return q.quote, q.err
}

type memLocker struct {
	mu   sync.Mutex
	held map[int64]string
	err  error
}

func (l *memLocker) AcquireCheckoutLock(_ context.Context, userID int64, _ time.Duration) (string, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return "", false, l.err
	}
	if l.held == nil {
		l.held = map[int64]string{}
	}
	if _, ok := l.held[userID]; ok {
		return "", false, nil
	}
	l.held[userID] = "token"
	return "token", true, nil
}

func (l *memLocker) ReleaseCheckoutLock(_ context.Context, userID int64, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[userID] == token {
		delete(l.held, userID)
	}
	return nil
}

type memMarkers struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (m *memMarkers) IsCallbackProcessed(_ context.Context, gateway, txn string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.seen[gateway+":"+txn], nil
}

func (m *memMarkers) MarkCallbackProcessed(_ context.Context, gateway, txn string, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen == nil {
		m.seen = map[string]bool{}
	}
	m.seen[gateway+":"+txn] = true
	return nil
}
