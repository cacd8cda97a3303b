package payflow_test

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-payflow/internal/payflow"
)

var errNotFound = payflow.ErrOrderNotFound

type fakeOrders struct {
	mu       sync.Mutex
	orders   map[string]*payflow.Order
	notes    map[string][]string
	deleted  []string
	paid     map[string]payflow.PaidDetails
	stock    map[string]int
	attached map[string]payflow.IntentAttachment
}

func newFakeOrders(orders ...payflow.Order) *fakeOrders {
	f := &fakeOrders{
		orders:   map[string]*payflow.Order{},
		notes:    map[string][]string{},
		paid:     map[string]payflow.PaidDetails{},
		stock:    map[string]int{},
		attached: map[string]payflow.IntentAttachment{},
	}
	for i := range orders {
		o := orders[i]
		f.orders[o.ID] = &o
	}
	return f
}

func (f *fakeOrders) Get(_ context.Context, id string) (payflow.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return payflow.Order{}, errNotFound
	}
	return *o, nil
}

func (f *fakeOrders) RecordIntent(_ context.Context, orderID string, att payflow.IntentAttachment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return errNotFound
	}
	o.IntentID = att.IntentID
	o.IntentStatus = att.Status
	o.ChargeID = att.ChargeID
	o.PaymentMethodID = att.PaymentMethodID
	f.attached[orderID] = att
	return nil
}

func (f *fakeOrders) MarkPaid(_ context.Context, orderID string, details payflow.PaidDetails) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return errNotFound
	}
	o.Status = details.Status
	o.MethodTitle = details.MethodTitle
	f.paid[orderID] = details
	return nil
}

func (f *fakeOrders) UpdateStatus(_ context.Context, orderID string, status payflow.OrderStatus, note string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return errNotFound
	}
	o.Status = status
	if note != "" {
		f.notes[orderID] = append(f.notes[orderID], note)
	}
	return nil
}

func (f *fakeOrders) AddNote(_ context.Context, orderID, note string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes[orderID] = append(f.notes[orderID], note)
	return nil
}

func (f *fakeOrders) Delete(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.orders, orderID)
	f.deleted = append(f.deleted, orderID)
	return nil
}

func (f *fakeOrders) ReduceStock(_ context.Context, orderID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return false, errNotFound
	}
	if o.StockReduced {
		return false, nil
	}
	o.StockReduced = true
	f.stock[orderID]++
	return true, nil
}

func (f *fakeOrders) ReceiptURL(o payflow.Order) string {
	return fmt.Sprintf("https://shop.test/orders/%s/received?key=%s", o.ID, o.Key)
}

func (f *fakeOrders) order(id string) payflow.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	if o, ok := f.orders[id]; ok {
		return *o
	}
	return payflow.Order{}
}

type fakeIntents struct {
	mu       sync.Mutex
	seq      int
	intents  map[string]payflow.Intent
	requests []payflow.IntentRequest
	setups   []payflow.SetupIntentRequest
	updates  []payflow.IntentUpdate
	// confirm decides the outcome of create-and-confirm calls.
	confirm func(req payflow.IntentRequest) (payflow.Intent, error)
}

func newFakeIntents() *fakeIntents {
	return &fakeIntents{intents: map[string]payflow.Intent{}}
}

func (f *fakeIntents) nextID(prefix string) string {
	f.seq++
	return fmt.Sprintf("%s_%d", prefix, f.seq)
}

func (f *fakeIntents) CreateIntent(_ context.Context, req payflow.IntentRequest) (payflow.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID("pi")
	in := payflow.Intent{
		ID:           id,
		Object:       payflow.ObjectPaymentIntent,
		Status:       payflow.StatusRequiresPaymentMethod,
		ClientSecret: id + "_secret",
		Amount:       req.Amount,
		Currency:     req.Currency,
		Metadata:     req.Metadata,
	}
	f.intents[id] = in
	f.requests = append(f.requests, req)
	return in, nil
}

func (f *fakeIntents) CreateAndConfirmIntent(_ context.Context, req payflow.IntentRequest) (payflow.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	id := f.nextID("pi")
	in := payflow.Intent{
		ID:              id,
		Object:          payflow.ObjectPaymentIntent,
		Status:          payflow.StatusSucceeded,
		ClientSecret:    id + "_secret",
		PaymentMethodID: req.PaymentMethodID,
		CustomerID:      req.CustomerID,
		ChargeID:        "ch_" + id,
		Amount:          req.Amount,
		Currency:        req.Currency,
		CaptureMethod:   req.CaptureMethod,
		Method:          payflow.MethodDetails{Type: "card", Brand: "visa", Last4: "4242"},
		Metadata:        req.Metadata,
	}
	if req.CaptureMethod == payflow.CaptureManual {
		in.Status = payflow.StatusRequiresCapture
	}
	if f.confirm != nil {
		override, err := f.confirm(req)
		if err != nil {
			return payflow.Intent{}, err
		}
		if override.Status != "" {
			in.Status = override.Status
		}
		in.NextAction = override.NextAction
		in.LastError = override.LastError
	}
	f.intents[id] = in
	return in, nil
}

func (f *fakeIntents) CreateAndConfirmSetupIntent(_ context.Context, req payflow.SetupIntentRequest) (payflow.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.setups = append(f.setups, req)
	id := f.nextID("seti")
	in := payflow.Intent{
		ID:              id,
		Object:          payflow.ObjectSetupIntent,
		Status:          payflow.StatusSucceeded,
		PaymentMethodID: req.PaymentMethodID,
		CustomerID:      req.CustomerID,
		Method:          payflow.MethodDetails{Type: "card", Brand: "visa", Last4: "4242"},
		Metadata:        req.Metadata,
	}
	f.intents[id] = in
	return in, nil
}

func (f *fakeIntents) GetIntent(_ context.Context, id string) (payflow.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	in, ok := f.intents[id]
	if !ok {
		return payflow.Intent{}, &payflow.RemoteError{Code: "resource_missing", Message: "No such intent", HTTPStatus: 404}
	}
	return in, nil
}

func (f *fakeIntents) GetSetupIntent(ctx context.Context, id string) (payflow.Intent, error) {
	return f.GetIntent(ctx, id)
}

func (f *fakeIntents) UpdateIntent(_ context.Context, id string, upd payflow.IntentUpdate) (payflow.Intent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	in, ok := f.intents[id]
	if !ok {
		return payflow.Intent{}, &payflow.RemoteError{Code: "resource_missing", Message: "No such intent"}
	}
	f.updates = append(f.updates, upd)
	in.Amount = upd.Amount
	in.Currency = upd.Currency
	in.Metadata = upd.Metadata
	f.intents[id] = in
	return in, nil
}

func (f *fakeIntents) set(in payflow.Intent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.intents[in.ID] = in
}

func (f *fakeIntents) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests) + len(f.setups)
}

type fakeSessions struct {
	mu     sync.Mutex
	data   map[string]map[string]string
	getErr error
	setErr error
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{data: map[string]map[string]string{}}
}

func (f *fakeSessions) Get(_ context.Context, sid, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return "", f.getErr
	}
	return f.data[sid][key], nil
}

func (f *fakeSessions) Set(_ context.Context, sid, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	if f.data[sid] == nil {
		f.data[sid] = map[string]string{}
	}
	f.data[sid][key] = value
	return nil
}

func (f *fakeSessions) Delete(_ context.Context, sid string, keys ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, k := range keys {
		delete(f.data[sid], k)
	}
	return nil
}

type fakeLimiter struct {
	mu      sync.Mutex
	limited map[string]bool
	bumps   map[string]int
}

func newFakeLimiter() *fakeLimiter {
	return &fakeLimiter{limited: map[string]bool{}, bumps: map[string]int{}}
}

func (f *fakeLimiter) IsLimited(_ context.Context, key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.limited[key]
}

func (f *fakeLimiter) Bump(_ context.Context, key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bumps[key]++
}

// stubStrategy returns a fixed next state and counts how often it ran.
type stubStrategy struct {
	mu    sync.Mutex
	calls int
	next  func(p *payflow.Payment) payflow.State
}

func (s *stubStrategy) Name() string { return "stub" }

func (s *stubStrategy) Process(_ context.Context, p *payflow.Payment) (payflow.State, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.next(p), nil
}

type fakeFraud struct {
	enabled bool
	valid   string
}

func (f fakeFraud) Enabled() bool { return f.enabled }

func (f fakeFraud) Issue(context.Context, string) (string, error) { return f.valid, nil }

func (f fakeFraud) Verify(_ context.Context, _ string, token string) bool {
	return token == f.valid
}

type fakeCustomers struct {
	mu      sync.Mutex
	refs    map[string]string
	upserts int
}

func (f *fakeCustomers) Find(_ context.Context, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.refs[userID], nil
}

func (f *fakeCustomers) Upsert(_ context.Context, in payflow.CustomerInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts++
	if in.CustomerRef != "" {
		return in.CustomerRef, nil
	}
	ref := "cus_" + in.OrderID
	if in.UserID != "" {
		if f.refs == nil {
			f.refs = map[string]string{}
		}
		f.refs[in.UserID] = ref
	}
	return ref, nil
}

type fakeMethods struct {
	mu            sync.Mutex
	orders        map[string]payflow.SavedToken
	subscriptions map[string]payflow.SavedToken
}

func newFakeMethods() *fakeMethods {
	return &fakeMethods{orders: map[string]payflow.SavedToken{}, subscriptions: map[string]payflow.SavedToken{}}
}

func (f *fakeMethods) Add(_ context.Context, userID string, token payflow.SavedToken) (payflow.SavedToken, error) {
	token.UserID = userID
	return token, nil
}

func (f *fakeMethods) List(context.Context, string) ([]payflow.SavedToken, error) { return nil, nil }

func (f *fakeMethods) AttachToOrder(_ context.Context, orderID string, token payflow.SavedToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[orderID] = token
	return nil
}

func (f *fakeMethods) AttachToSubscriptions(_ context.Context, orderID string, token payflow.SavedToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscriptions[orderID] = token
	return nil
}

type scheduledJob struct {
	name    string
	payload any
}

type fakeJobs struct {
	mu   sync.Mutex
	jobs []scheduledJob
}

func (f *fakeJobs) Schedule(_ context.Context, job string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.jobs = append(f.jobs, scheduledJob{name: job, payload: payload})
	return nil
}

type fakeCarts struct {
	mu      sync.Mutex
	emptied []string
}

func (f *fakeCarts) Empty(_ context.Context, cartID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emptied = append(f.emptied, cartID)
	return nil
}

type fakeMinimums struct {
	mu     sync.Mutex
	values map[string]int64
}

func (f *fakeMinimums) Get(_ context.Context, currency string) (int64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[currency]
	return v, ok
}

func (f *fakeMinimums) Set(_ context.Context, currency string, amount int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.values == nil {
		f.values = map[string]int64{}
	}
	f.values[currency] = amount
}

type memRepo struct {
	mu      sync.Mutex
	records map[string]payflow.Record
	seq     int
	order   map[string]int
}

func newMemRepo() *memRepo {
	return &memRepo{records: map[string]payflow.Record{}, order: map[string]int{}}
}

func (r *memRepo) Save(_ context.Context, rec payflow.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.records[rec.ID] = rec
	r.order[rec.ID] = r.seq
	return nil
}

func (r *memRepo) FindByID(_ context.Context, id string) (payflow.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return payflow.Record{}, payflow.ErrRecordNotFound
	}
	return rec, nil
}

func (r *memRepo) FindByOrder(_ context.Context, orderID string) (payflow.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matches []payflow.Record
	for _, rec := range r.records {
		if rec.OrderID == orderID {
			matches = append(matches, rec)
		}
	}
	if len(matches) == 0 {
		return payflow.Record{}, payflow.ErrRecordNotFound
	}
	sort.Slice(matches, func(i, j int) bool { return r.order[matches[i].ID] > r.order[matches[j].ID] })
	return matches[0], nil
}

type harness struct {
	svc       *payflow.Service
	orders    *fakeOrders
	intents   *fakeIntents
	sessions  *fakeSessions
	limiter   *fakeLimiter
	customers *fakeCustomers
	methods   *fakeMethods
	jobs      *fakeJobs
	carts     *fakeCarts
	minimums  *fakeMinimums
	repo      *memRepo
}

func newHarness(orders ...payflow.Order) *harness {
	h := &harness{
		orders:    newFakeOrders(orders...),
		intents:   newFakeIntents(),
		sessions:  newFakeSessions(),
		limiter:   newFakeLimiter(),
		customers: &fakeCustomers{},
		methods:   newFakeMethods(),
		jobs:      &fakeJobs{},
		carts:     &fakeCarts{},
		minimums:  &fakeMinimums{},
		repo:      newMemRepo(),
	}
	h.svc = &payflow.Service{
		Orders:    h.orders,
		Carts:     h.carts,
		Customers: h.customers,
		Intents:   h.intents,
		Fraud:     fakeFraud{},
		Limiter:   h.limiter,
		Sessions:  h.sessions,
		Methods:   h.methods,
		Jobs:      h.jobs,
		Minimums:  h.minimums,
		Repo:      h.repo,
		Logger:    zerolog.Nop(),
		SiteURL:   "https://shop.test",
		ReturnURL: func(o payflow.Order) string { return "https://shop.test/orders/" + o.ID + "/payment-return" },
	}
	return h
}

func testOrder(id string, total int64) payflow.Order {
	return payflow.Order{
		ID:       id,
		Number:   "10" + id,
		Key:      "key_" + id,
		UserID:   "user-1",
		CartID:   "cart-" + id,
		CartHash: "hash-abc",
		Status:   payflow.OrderPending,
		Total:    total,
		Currency: "USD",
		Billing: payflow.BillingDetails{
			FirstName: "Ana",
			LastName:  "Lee",
			Email:     "ana@example.com",
			Country:   "us",
		},
		Items: []payflow.OrderItem{{ProductID: "p-1", SKU: "SKU-1", Name: "Widget", Quantity: 1, UnitAmount: total}},
	}
}
