package paymentstore_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-payflow/internal/payflow"
	"github.com/noah-isme/toko-payflow/internal/paymentstore"
)

// fakeDynamo implements the single-table access pattern used by the store.
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: map[string]map[string]types.AttributeValue{}}
}

func str(item map[string]types.AttributeValue, key string) string {
	if v, ok := item[key].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items[str(in.Item, "id")] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[str(in.Key, "id")]}, nil
}

func (f *fakeDynamo) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	orderID := str(in.ExpressionAttributeValues, ":oid")
	var out []map[string]types.AttributeValue
	for _, item := range f.items {
		if str(item, "order_id") == orderID {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return str(out[i], "updated_at") > str(out[j], "updated_at") })
	if in.Limit != nil && int(*in.Limit) < len(out) {
		out = out[:*in.Limit]
	}
	return &dynamodb.QueryOutput{Items: out}, nil
}

func TestRepositories(t *testing.T) {
	t.Parallel()
	repos := map[string]payflow.Repository{
		"memory": paymentstore.NewMemory(),
		"dynamo": &paymentstore.Dynamo{Client: newFakeDynamo(), Table: "payments"},
	}
	for name, repo := range repos {
		repo := repo
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

			_, err := repo.FindByID(ctx, "missing")
			require.ErrorIs(t, err, payflow.ErrRecordNotFound)
			_, err = repo.FindByOrder(ctx, "order-1")
			require.ErrorIs(t, err, payflow.ErrRecordNotFound)

			first := payflow.Record{
				ID:        "11111111-1111-1111-1111-111111111111",
				OrderID:   "order-1",
				State:     payflow.StateFailedPreparation,
				Flags:     []string{"save_to_store"},
				Method:    &payflow.MethodRecord{Kind: payflow.MethodKindNew, ID: "pm_card_visa"},
				Session:   payflow.Session{ID: "sess", IP: "192.0.2.1"},
				CreatedAt: base,
				UpdatedAt: base,
			}
			second := first
			second.ID = "22222222-2222-2222-2222-222222222222"
			second.State = payflow.StateCompleted
			second.IntentID = "pi_1"
			second.UpdatedAt = base.Add(time.Minute)

			require.NoError(t, repo.Save(ctx, second))
			require.NoError(t, repo.Save(ctx, first))

			got, err := repo.FindByID(ctx, first.ID)
			require.NoError(t, err)
			require.Equal(t, first.State, got.State)
			require.Equal(t, []string{"save_to_store"}, got.Flags)
			require.Equal(t, "pm_card_visa", got.Method.ID)
			require.Equal(t, "sess", got.Session.ID)

			latest, err := repo.FindByOrder(ctx, "order-1")
			require.NoError(t, err)
			require.Equal(t, second.ID, latest.ID)
			require.Equal(t, "pi_1", latest.IntentID)

			require.ErrorIs(t, repo.Save(ctx, payflow.Record{}), paymentstore.ErrMissingID)
		})
	}
}
