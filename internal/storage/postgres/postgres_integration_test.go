//go:build integration

package postgres

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/product"
)

var testPool *pgxpool.Pool

func TestMain(m *testing.M) {
	os.Exit(run(m))
}

func run(m *testing.M) int {
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("kart"),
		tcpostgres.WithUsername("postgres"),
		tcpostgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "start postgres: %v\n", err)
		return 1
	}
	defer func() { _ = container.Terminate(ctx) }()

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Fprintf(os.Stderr, "connection string: %v\n", err)
		return 1
	}

	testPool, err = NewPool(ctx, dsn)
	if err != nil {
		fmt.Fprintf(os.Stderr, "pool: %v\n", err)
		return 1
	}
	defer testPool.Close()

	if err := RunMigrations(testPool); err != nil {
		fmt.Fprintf(os.Stderr, "migrations: %v\n", err)
		return 1
	}
	// Applying twice is a no-op.
	if err := RunMigrations(testPool); err != nil {
		fmt.Fprintf(os.Stderr, "migrations again: %v\n", err)
		return 1
	}

	return m.Run()
}

func truncate(t *testing.T) {
	t.Helper()
	_, err := testPool.Exec(context.Background(), `TRUNCATE products, coupons, orders, outbox_messages`)
	require.NoError(t, err)
}

func confirmation(userID, ref string, total int64) *payment.Confirmation {
	return &payment.Confirmation{
		Provider:   payment.ProviderStripe,
		PaymentRef: ref,
		PaymentID:  "pi_" + ref,
		Amount:     total,
		Currency:   "usd",
		Metadata: payment.Metadata{
			UserID: userID,
			Items:  []payment.Item{{ProductID: "p1", Quantity: 1, UnitPrice: total}},
		},
	}
}

func countRows(t *testing.T, sql string, args ...any) int {
	t.Helper()
	var n int
	require.NoError(t, testPool.QueryRow(context.Background(), sql, args...).Scan(&n))
	return n
}

func TestProductRepository(t *testing.T) {
	truncate(t)
	ctx := context.Background()
	_, err := testPool.Exec(ctx, `INSERT INTO products (id, name, price, category, featured) VALUES
		('1', 'Waffle with Berries', 6.50, 'Waffle', false),
		('2', 'Pistachio Baklava', 59.99, 'Baklava', true)`)
	require.NoError(t, err)

	repo := NewProductRepository(testPool)

	list, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "2", list[0].ID)
	assert.True(t, list[0].Price.Equal(decimal.RequireFromString("59.99")))
	assert.Equal(t, int64(5999), list[0].UnitPrice())

	p, err := repo.GetByID(ctx, "1")
	require.NoError(t, err)
	assert.Equal(t, int64(650), p.UnitPrice())

	_, err = repo.GetByID(ctx, "404")
	require.ErrorIs(t, err, product.ErrNotFound)

	some, err := repo.GetByIDs(ctx, []string{"1", "404"})
	require.NoError(t, err)
	require.Len(t, some, 1)
}

func TestProductRepository_Newest(t *testing.T) {
	truncate(t)
	ctx := context.Background()
	_, err := testPool.Exec(ctx, `INSERT INTO products (id, name, price, created_at) VALUES
		('1', 'Waffle', 6.50, now() - interval '3 days'),
		('2', 'Baklava', 59.99, now() - interval '1 day'),
		('3', 'Crème Brûlée', 7.00, now() - interval '2 days'),
		('4', 'Cake Pop', 8.00, now())`)
	require.NoError(t, err)

	newest, err := NewProductRepository(testPool).Newest(ctx, 3)
	require.NoError(t, err)
	ids := make([]string, 0, len(newest))
	for _, p := range newest {
		ids = append(ids, p.ID)
	}
	assert.Equal(t, []string{"4", "2", "3"}, ids)
}

func TestMaterializer_DuplicateVerifyWritesOneOrder(t *testing.T) {
	truncate(t)
	ctx := context.Background()
	repo := NewOrderRepository(testPool)
	m := order.NewMaterializer(repo, coupon.DefaultPolicy())
	c := confirmation("u1", "cs_dup", 23799)

	const callers = 6
	results := make([]*order.Result, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := m.Materialize(ctx, c)
			if assert.NoError(t, err) {
				results[i] = res
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, countRows(t, `SELECT count(*) FROM orders WHERE external_payment_ref = $1`, "cs_dup"))
	assert.Equal(t, 1, countRows(t, `SELECT count(*) FROM coupons WHERE user_id = $1 AND is_active`, "u1"))
	assert.Equal(t, 2, countRows(t, `SELECT count(*) FROM outbox_messages`))

	fresh := 0
	for _, r := range results {
		require.NotNil(t, r)
		assert.Equal(t, results[0].Order.ID, r.Order.ID)
		if !r.Duplicate {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)

	stored, err := repo.GetByID(ctx, results[0].Order.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(23799), stored.Total)
	assert.Equal(t, payment.ProviderStripe, stored.Provider)
	assert.Equal(t, []order.Item{{ProductID: "p1", Quantity: 1, UnitPrice: 23799}}, stored.Items)
}

func TestMaterializer_ConcurrentGiftsLeaveOneActiveCoupon(t *testing.T) {
	truncate(t)
	ctx := context.Background()
	m := order.NewMaterializer(NewOrderRepository(testPool), coupon.DefaultPolicy())

	var wg sync.WaitGroup
	for i := range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Materialize(ctx, confirmation("u1", fmt.Sprintf("cs_%d", i), 20000))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, countRows(t, `SELECT count(*) FROM orders WHERE user_id = $1`, "u1"))
	assert.Equal(t, 1, countRows(t, `SELECT count(*) FROM coupons WHERE user_id = $1`, "u1"))
	assert.Equal(t, 1, countRows(t, `SELECT count(*) FROM coupons WHERE user_id = $1 AND is_active`, "u1"))
}

func TestCouponLedger_Postgres(t *testing.T) {
	truncate(t)
	ctx := context.Background()
	repo := NewCouponRepository(testPool)
	ledger := coupon.NewLedger(repo)

	now := time.Now().UTC().Truncate(time.Microsecond)
	_, err := testPool.Exec(ctx, `INSERT INTO coupons (id, code, user_id, discount_percentage, expires_at, is_active, created_at)
		VALUES ('c1', 'GIFTLIVE01', 'u1', 10, $1, TRUE, $2), ('c2', 'GIFTDEAD01', 'u2', 10, $3, TRUE, $2)`,
		now.Add(time.Hour), now, now.Add(-time.Hour))
	require.NoError(t, err)

	c, err := ledger.Validate(ctx, "u1", "giftlive01")
	require.NoError(t, err)
	assert.Equal(t, 10, c.DiscountPercentage)

	_, err = ledger.Validate(ctx, "u2", "GIFTLIVE01")
	require.ErrorIs(t, err, coupon.ErrNotFound)

	_, err = ledger.Validate(ctx, "u2", "GIFTDEAD01")
	require.ErrorIs(t, err, coupon.ErrExpired)
	assert.Equal(t, 0, countRows(t, `SELECT count(*) FROM coupons WHERE id = 'c2' AND is_active`))

	require.NoError(t, ledger.Deactivate(ctx, "u1", "GIFTLIVE01"))
	require.NoError(t, ledger.Deactivate(ctx, "u1", "GIFTLIVE01"))
	active, err := ledger.Active(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, active)
}

func TestOutboxRepository(t *testing.T) {
	truncate(t)
	ctx := context.Background()
	repo := NewOutboxRepository(testPool)
	m := order.NewMaterializer(NewOrderRepository(testPool), coupon.DefaultPolicy())

	_, err := m.Materialize(ctx, confirmation("u1", "cs_small", 1000))
	require.NoError(t, err)

	pending, err := repo.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, order.Topic, pending[0].Topic)
	assert.Equal(t, "u1", pending[0].Key)
	assert.Contains(t, string(pending[0].Payload), `"order.created"`)

	require.NoError(t, repo.MarkSent(ctx, []string{pending[0].ID}))
	pending, err = repo.Pending(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
