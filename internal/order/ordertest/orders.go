// Package ordertest provides an in-memory order store for tests.
package ordertest

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/noah-isme/toko-payflow/internal/order"
	"github.com/noah-isme/toko-payflow/internal/payflow"
)

// Orders implements payflow.Orders and payflow.Carts in memory.
type Orders struct {
	mu      sync.Mutex
	seq     int
	orders  map[string]*payflow.Order
	notes   map[string][]string
	carts   map[string][]payflow.OrderItem
	emptied []string
}

func New(orders ...payflow.Order) *Orders {
	f := &Orders{
		orders: map[string]*payflow.Order{},
		notes:  map[string][]string{},
		carts:  map[string][]payflow.OrderItem{},
	}
	for _, o := range orders {
		f.Put(o)
	}
	return f
}

// Put stores o, replacing any order with the same id.
func (f *Orders) Put(o payflow.Order) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders[o.ID] = &o
}

// PutCart stores cart contents for Create.
func (f *Orders) PutCart(cartID string, items ...payflow.OrderItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.carts[cartID] = items
}

func (f *Orders) Get(_ context.Context, id string) (payflow.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return payflow.Order{}, payflow.ErrOrderNotFound
	}
	return *o, nil
}

func (f *Orders) Create(_ context.Context, in order.NewOrder) (payflow.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items := f.carts[in.CartID]
	if len(items) == 0 {
		return payflow.Order{}, order.ErrEmptyCart
	}
	total := in.ShippingTotal
	for _, it := range items {
		total += it.UnitAmount * int64(it.Quantity)
	}
	f.seq++
	o := payflow.Order{
		ID:              uuid.NewString(),
		Number:          strconv.Itoa(f.seq),
		Key:             "order_test" + strconv.Itoa(f.seq),
		UserID:          in.UserID,
		CartID:          in.CartID,
		CartHash:        order.CartHash(items),
		Status:          payflow.OrderPending,
		Total:           total,
		ShippingTotal:   in.ShippingTotal,
		Currency:        in.Currency,
		Billing:         in.Billing,
		Items:           items,
		IsRenewal:       in.IsRenewal,
		SubscriptionIDs: in.SubscriptionIDs,
		CreatedAt:       time.Now().UTC(),
	}
	f.orders[o.ID] = &o
	return o, nil
}

// FindByIntent returns the most recent order an intent was recorded on.
func (f *Orders) FindByIntent(_ context.Context, intentID string) (payflow.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var found *payflow.Order
	for _, o := range f.orders {
		if o.IntentID != intentID {
			continue
		}
		if found == nil || o.CreatedAt.After(found.CreatedAt) {
			found = o
		}
	}
	if found == nil || intentID == "" {
		return payflow.Order{}, payflow.ErrOrderNotFound
	}
	return *found, nil
}

func (f *Orders) RecordIntent(_ context.Context, orderID string, att payflow.IntentAttachment) error {
	return f.update(orderID, func(o *payflow.Order) {
		o.IntentID = att.IntentID
		o.IntentStatus = att.Status
		if att.ChargeID != "" {
			o.ChargeID = att.ChargeID
		}
		if att.PaymentMethodID != "" {
			o.PaymentMethodID = att.PaymentMethodID
		}
	})
}

func (f *Orders) MarkPaid(_ context.Context, orderID string, details payflow.PaidDetails) error {
	return f.update(orderID, func(o *payflow.Order) {
		o.Status = details.Status
		if o.Status == "" {
			o.Status = payflow.OrderProcessing
		}
		o.MethodTitle = details.MethodTitle
	})
}

func (f *Orders) UpdateStatus(_ context.Context, orderID string, status payflow.OrderStatus, note string) error {
	err := f.update(orderID, func(o *payflow.Order) { o.Status = status })
	if err == nil && note != "" {
		f.mu.Lock()
		f.notes[orderID] = append(f.notes[orderID], note)
		f.mu.Unlock()
	}
	return err
}

func (f *Orders) AddNote(_ context.Context, orderID, note string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes[orderID] = append(f.notes[orderID], note)
	return nil
}

func (f *Orders) Delete(_ context.Context, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.orders, orderID)
	return nil
}

func (f *Orders) ReduceStock(_ context.Context, orderID string) (bool, error) {
	reduced := false
	err := f.update(orderID, func(o *payflow.Order) {
		if !o.StockReduced {
			o.StockReduced, reduced = true, true
		}
	})
	return reduced, err
}

func (f *Orders) ReceiptURL(o payflow.Order) string {
	return order.ReceiptURL("https://shop.test", o)
}

func (f *Orders) Empty(_ context.Context, cartID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.carts, cartID)
	f.emptied = append(f.emptied, cartID)
	return nil
}

// Notes returns the notes added to an order.
func (f *Orders) Notes(orderID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.notes[orderID]...)
}

// Emptied lists carts emptied so far.
func (f *Orders) Emptied() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.emptied...)
}

func (f *Orders) update(id string, fn func(*payflow.Order)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[id]
	if !ok {
		return payflow.ErrOrderNotFound
	}
	fn(o)
	return nil
}
