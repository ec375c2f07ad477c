package sequence

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-storefront-orderflow/internal/apperr"
	"github.com/imrishuroy/go-storefront-orderflow/internal/dynamotest"
)

const countersTable = "order_counters"

func newFake() *dynamotest.Fake {
	f := dynamotest.New()
	f.CreateTable(countersTable, "counter_date")
	return f
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 10, 0, 0, 0, time.UTC)
}

func TestFormatOrderID(t *testing.T) {
	tests := []struct {
		date time.Time
		seq  int
		want string
	}{
		{day(2025, time.April, 16), 7, "25164007"},
		{day(2025, time.December, 3), 12, "250312012"},
		{day(2031, time.January, 9), 1, "31091001"},
		{day(2025, time.April, 16), 1234, "251641234"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FormatOrderID(tt.date, tt.seq))
	}
}

func TestNext_StartsAtOneAndIncrements(t *testing.T) {
	f := newFake()
	g := NewGenerator(f, countersTable)
	ctx := context.Background()

	for want := 1; want <= 3; want++ {
		got, err := g.Next(ctx, day(2025, time.April, 16))
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}

	// a new day has its own counter
	got, err := g.Next(ctx, day(2025, time.April, 17))
	require.NoError(t, err)
	assert.Equal(t, 1, got)

	item := f.Item(countersTable, "2025-04-16")
	require.NotNil(t, item)
	assert.Equal(t, "3", item["value"].(*types.AttributeValueMemberN).Value)
}

func TestNext_ConcurrentCallersGetDistinctGapFreeNumbers(t *testing.T) {
	f := newFake()
	// seed a previous max so the range starts mid-day
	f.Seed(countersTable, map[string]types.AttributeValue{
		"counter_date": &types.AttributeValueMemberS{Value: "2025-04-16"},
		"value":        &types.AttributeValueMemberN{Value: "10"},
	})

	const n = 25
	// every failed swap means some other caller succeeded, so n attempts always suffice
	g := NewGenerator(f, countersTable, WithMaxAttempts(n))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		got  []int
		errs []error
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := g.Next(context.Background(), day(2025, time.April, 16))
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			got = append(got, v)
		}()
	}
	wg.Wait()

	require.Empty(t, errs)
	sort.Ints(got)
	want := make([]int, n)
	for i := range want {
		want[i] = 11 + i
	}
	assert.Equal(t, want, got)
}

func TestNext_RetriesAfterConflictingWriter(t *testing.T) {
	f := newFake()
	g := NewGenerator(f, countersTable)

	// the first read is followed by a competing writer claiming number 1
	interfered := false
	f.AfterGet = func(table string, key map[string]types.AttributeValue) {
		if interfered {
			return
		}
		interfered = true
		f.Seed(countersTable, map[string]types.AttributeValue{
			"counter_date": &types.AttributeValueMemberS{Value: "2025-04-16"},
			"value":        &types.AttributeValueMemberN{Value: "1"},
		})
	}

	got, err := g.Next(context.Background(), day(2025, time.April, 16))
	require.NoError(t, err)
	assert.Equal(t, 2, got)
	assert.Equal(t, 2, f.Calls("PutItem"))
}

func TestNext_ExhaustedBudgetFails(t *testing.T) {
	f := newFake()
	g := NewGenerator(f, countersTable, WithMaxAttempts(3))

	// someone always gets there first
	n := 0
	f.AfterGet = func(table string, key map[string]types.AttributeValue) {
		n++
		f.Seed(countersTable, map[string]types.AttributeValue{
			"counter_date": &types.AttributeValueMemberS{Value: "2025-04-16"},
			"value":        &types.AttributeValueMemberN{Value: string(rune('0' + n))},
		})
	}

	_, err := g.Next(context.Background(), day(2025, time.April, 16))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrContention))
	assert.Equal(t, apperr.KindUnavailable, apperr.KindOf(err))
	assert.Equal(t, 3, f.Calls("PutItem"))
}

func TestNext_StoreErrorSurfaces(t *testing.T) {
	f := newFake()
	f.FailWith("GetItem", errors.New("connection reset"))
	g := NewGenerator(f, countersTable)

	_, err := g.Next(context.Background(), day(2025, time.April, 16))
	require.Error(t, err)
	assert.Equal(t, apperr.KindUnavailable, apperr.KindOf(err))
	assert.ErrorContains(t, err, "connection reset")
}

func TestNewOrderID_UsesGeneratorTimezone(t *testing.T) {
	f := newFake()
	dhaka := time.FixedZone("BST", 6*3600)
	g := NewGenerator(f, countersTable, WithLocation(dhaka))

	// 20:00 UTC on the 15th is already the 16th in Dhaka
	id, err := g.NewOrderID(context.Background(), time.Date(2025, time.April, 15, 20, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, "25164001", id)
	assert.NotNil(t, f.Item(countersTable, "2025-04-16"))
}
