package jobs_test

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/noah-isme/toko-payflow/internal/methods"
	"github.com/noah-isme/toko-payflow/internal/payflow"
	"github.com/noah-isme/toko-payflow/internal/queue"
)

type memoryMethods struct {
	mu      sync.Mutex
	tokens  []payflow.SavedToken
	orders  map[string]payflow.SavedToken
	subsFor []string
}

func newMemoryMethods(tokens ...payflow.SavedToken) *memoryMethods {
	return &memoryMethods{tokens: tokens, orders: map[string]payflow.SavedToken{}}
}

func (m *memoryMethods) Add(_ context.Context, userID string, token payflow.SavedToken) (payflow.SavedToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range m.tokens {
		if t.UserID == userID && t.GatewayID == token.GatewayID {
			token.ID = t.ID
			token.UserID = userID
			m.tokens[i] = token
			return token, nil
		}
	}
	token.ID = uuid.NewString()
	token.UserID = userID
	m.tokens = append(m.tokens, token)
	return token, nil
}

func (m *memoryMethods) List(_ context.Context, userID string) ([]payflow.SavedToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []payflow.SavedToken
	for _, t := range m.tokens {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memoryMethods) Get(_ context.Context, userID, id string) (payflow.SavedToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.UserID == userID && t.ID == id {
			return t, nil
		}
	}
	return payflow.SavedToken{}, methods.ErrTokenNotFound
}

func (m *memoryMethods) FindByGatewayID(_ context.Context, userID, gatewayID string) (payflow.SavedToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.UserID == userID && t.GatewayID == gatewayID {
			return t, nil
		}
	}
	return payflow.SavedToken{}, methods.ErrTokenNotFound
}

func (m *memoryMethods) AttachToOrder(_ context.Context, orderID string, token payflow.SavedToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[orderID] = token
	return nil
}

func (m *memoryMethods) AttachToSubscriptions(_ context.Context, orderID string, _ payflow.SavedToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subsFor = append(m.subsFor, orderID)
	return nil
}

type memoryCustomers struct {
	mu    sync.Mutex
	refs  map[string]string
	calls int
}

func (c *memoryCustomers) Find(_ context.Context, userID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refs[userID], nil
}

func (c *memoryCustomers) Upsert(_ context.Context, in payflow.CustomerInput) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.refs == nil {
		c.refs = map[string]string{}
	}
	ref := "cus_" + in.UserID
	c.refs[in.UserID] = ref
	return ref, nil
}

type recordingQueue struct {
	mu    sync.Mutex
	tasks []queue.Task
}

func (q *recordingQueue) Enqueue(_ context.Context, t queue.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, t)
	return nil
}
