package store_test

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/nyashahama/email-sequence-backend/internal/contacts"
	"github.com/nyashahama/email-sequence-backend/internal/db"
	"github.com/nyashahama/email-sequence-backend/internal/order"
	"github.com/nyashahama/email-sequence-backend/internal/store"
)

// ─── TEST INFRASTRUCTURE ──────────────────────────────────────────────────────

var claim = store.ClaimParams{StaleAfter: 30 * time.Minute, MaxAttempts: 3}

// openTestDB returns a migrated, empty database from DATABASE_URL. Skips if
// the env var is not set so the suite still passes without Postgres.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set, skipping store integration tests")
	}
	if err := db.Migrate(dsn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	pool, err := sql.Open("postgres", dsn)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	if err := pool.PingContext(context.Background()); err != nil {
		pool.Close()
		t.Fatalf("ping: %v", err)
	}
	if _, err := pool.Exec("TRUNCATE orders, stripe_events"); err != nil {
		pool.Close()
		t.Fatalf("truncate: %v", err)
	}
	t.Cleanup(func() { pool.Close() })
	return pool
}

func newStore(pool *sql.DB) *store.Store {
	return store.New(pool, db.New(pool))
}

// seedPaidOrder creates an order and moves it to pending.
func seedPaidOrder(t *testing.T, ctx context.Context, st *store.Store) order.Order {
	t.Helper()
	list, err := contacts.New([]string{"name", "company"}, [][]string{
		{"Ann", "Acme"},
		{"Bob", "Globex"},
	})
	if err != nil {
		t.Fatalf("contacts: %v", err)
	}
	o, err := st.CreateOrder(ctx, store.CreateOrderParams{
		Email:            "buyer@example.com",
		Template:         "Hi {{name}} at {{company}}",
		Contacts:         list,
		EmailsPerContact: 3,
		AmountCents:      30,
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if _, err := st.Q().MarkOrderPaid(ctx, db.MarkOrderPaidParams{ID: o.ID}); err != nil {
		t.Fatalf("MarkOrderPaid: %v", err)
	}
	return o
}

// backdateClaim makes a processing order look abandoned.
func backdateClaim(t *testing.T, pool *sql.DB, id uuid.UUID) {
	t.Helper()
	_, err := pool.Exec(`UPDATE orders SET claimed_at = NOW() - INTERVAL '2 hours' WHERE id = $1`, id)
	if err != nil {
		t.Fatalf("backdate: %v", err)
	}
}

// ─── CreateOrder / ClaimNextOrder ─────────────────────────────────────────────

func TestCreateOrder_StartsPendingPayment(t *testing.T) {
	pool := openTestDB(t)
	ctx := context.Background()
	st := newStore(pool)

	list, _ := contacts.New([]string{"name"}, [][]string{{"Ann"}})
	o, err := st.CreateOrder(ctx, store.CreateOrderParams{
		Email:            "buyer@example.com",
		Template:         "Hi {{name}}",
		Contacts:         list,
		EmailsPerContact: 2,
		AmountCents:      10,
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if o.Status != order.StatusPendingPayment {
		t.Errorf("status: got %q", o.Status)
	}
	if len(o.Rows) != 1 || o.Rows[0][0] != "Ann" {
		t.Errorf("rows not round-tripped: %v", o.Rows)
	}

	// An unpaid order is never claimable.
	if _, err := st.ClaimNextOrder(ctx, claim); !errors.Is(err, store.ErrNoPendingOrder) {
		t.Errorf("claim before payment: want ErrNoPendingOrder, got %v", err)
	}
}

func TestClaimNextOrder_MovesToProcessing(t *testing.T) {
	pool := openTestDB(t)
	ctx := context.Background()
	st := newStore(pool)
	seeded := seedPaidOrder(t, ctx, st)

	o, err := st.ClaimNextOrder(ctx, claim)
	if err != nil {
		t.Fatalf("ClaimNextOrder: %v", err)
	}
	if o.ID != seeded.ID {
		t.Fatalf("claimed %s, want %s", o.ID, seeded.ID)
	}
	if o.Status != order.StatusProcessing {
		t.Errorf("status: got %q", o.Status)
	}
	if o.Attempts != 1 {
		t.Errorf("attempts: got %d, want 1", o.Attempts)
	}
	if o.StartedAt == nil {
		t.Error("expected started_at to be set")
	}
	if o.Headers[1] != "company" || o.Rows[1][1] != "Globex" {
		t.Errorf("contact data not decoded: %v %v", o.Headers, o.Rows)
	}

	if _, err := st.ClaimNextOrder(ctx, claim); !errors.Is(err, store.ErrNoPendingOrder) {
		t.Errorf("second claim: want ErrNoPendingOrder, got %v", err)
	}
}

func TestClaimNextOrder_ConcurrentClaimsWinOnce(t *testing.T) {
	pool := openTestDB(t)
	ctx := context.Background()
	st := newStore(pool)
	seedPaidOrder(t, ctx, st)

	const callers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.ClaimNextOrder(ctx, claim)
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			if !errors.Is(err, store.ErrNoPendingOrder) {
				t.Errorf("unexpected claim error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly one winning claim, got %d", wins)
	}
}

func TestClaimNextOrder_ReclaimsStaleOrder(t *testing.T) {
	pool := openTestDB(t)
	ctx := context.Background()
	st := newStore(pool)
	seedPaidOrder(t, ctx, st)

	first, err := st.ClaimNextOrder(ctx, claim)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	backdateClaim(t, pool, first.ID)

	second, err := st.ClaimNextOrder(ctx, claim)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("reclaimed %s, want %s", second.ID, first.ID)
	}
	if second.Attempts != 2 {
		t.Errorf("attempts: got %d, want 2", second.Attempts)
	}
	if second.StartedAt == nil || !second.StartedAt.Equal(*first.StartedAt) {
		t.Errorf("started_at should be kept across reclaims: %v vs %v", second.StartedAt, first.StartedAt)
	}

	// The first holder has been fenced out.
	_, err = st.FinalizeOrder(ctx, store.FinalizeParams{ID: first.ID, Attempts: first.Attempts})
	if !errors.Is(err, store.ErrClaimLost) {
		t.Errorf("stale finalize: want ErrClaimLost, got %v", err)
	}
}

// ─── FinalizeOrder / FailOrder ────────────────────────────────────────────────

func TestFinalizeOrder_WritesResults(t *testing.T) {
	pool := openTestDB(t)
	ctx := context.Background()
	st := newStore(pool)
	seedPaidOrder(t, ctx, st)

	claimed, err := st.ClaimNextOrder(ctx, claim)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	results := []order.Sequence{
		{{Subject: "Hello Ann", Body: "Body 1"}},
		order.FailedSequence(),
	}
	done, err := st.FinalizeOrder(ctx, store.FinalizeParams{
		ID:           claimed.ID,
		Attempts:     claimed.Attempts,
		Results:      results,
		SuccessCount: 1,
		ErrorCount:   1,
		Artifact:     []byte(`"name","company"`),
		Delivered:    true,
	})
	if err != nil {
		t.Fatalf("FinalizeOrder: %v", err)
	}
	if done.Status != order.StatusCompleted {
		t.Errorf("status: got %q", done.Status)
	}
	if done.CompletedAt == nil {
		t.Error("expected completed_at")
	}
	if len(done.Results) != 2 || done.Results[0][0].Subject != "Hello Ann" || !order.IsSentinel(done.Results[1]) {
		t.Errorf("results not round-tripped: %+v", done.Results)
	}
	if done.SuccessCount != 1 || done.ErrorCount != 1 {
		t.Errorf("counts: got %d/%d", done.SuccessCount, done.ErrorCount)
	}

	// Completed is terminal.
	_, err = st.FailOrder(ctx, claimed.ID, claimed.Attempts, "late failure")
	if !errors.Is(err, store.ErrClaimLost) {
		t.Errorf("fail after complete: want ErrClaimLost, got %v", err)
	}
}

func TestFailExhaustedOrders(t *testing.T) {
	pool := openTestDB(t)
	ctx := context.Background()
	st := newStore(pool)
	seedPaidOrder(t, ctx, st)

	limited := store.ClaimParams{StaleAfter: claim.StaleAfter, MaxAttempts: 1}
	claimed, err := st.ClaimNextOrder(ctx, limited)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	backdateClaim(t, pool, claimed.ID)

	// Out of attempts: not reclaimable.
	if _, err := st.ClaimNextOrder(ctx, limited); !errors.Is(err, store.ErrNoPendingOrder) {
		t.Fatalf("want ErrNoPendingOrder, got %v", err)
	}

	ids, err := st.FailExhaustedOrders(ctx, limited)
	if err != nil {
		t.Fatalf("FailExhaustedOrders: %v", err)
	}
	if len(ids) != 1 || ids[0] != claimed.ID {
		t.Fatalf("ids: got %v", ids)
	}

	row, err := st.Q().GetOrderByID(ctx, claimed.ID)
	if err != nil {
		t.Fatalf("GetOrderByID: %v", err)
	}
	if row.Status != db.OrderStatusFailed {
		t.Errorf("status: got %q", row.Status)
	}
}

// ─── ApplyPayment ─────────────────────────────────────────────────────────────

func TestApplyPayment_Idempotent(t *testing.T) {
	pool := openTestDB(t)
	ctx := context.Background()
	st := newStore(pool)

	list, _ := contacts.New([]string{"name"}, [][]string{{"Ann"}})
	o, err := st.CreateOrder(ctx, store.CreateOrderParams{
		Email: "buyer@example.com", Template: "Hi", Contacts: list, EmailsPerContact: 1, AmountCents: 5,
	})
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	for _, eventID := range []string{"evt_first", "evt_second"} {
		if _, err := st.Q().UpsertStripeEvent(ctx, db.UpsertStripeEventParams{
			StripeEventID: eventID, Type: "checkout.session.completed", Payload: []byte(`{}`),
		}); err != nil {
			t.Fatalf("UpsertStripeEvent: %v", err)
		}
	}

	applied, err := st.ApplyPayment(ctx, store.ApplyPaymentParams{OrderID: o.ID, PaymentIntent: "pi_1", EventID: "evt_first"})
	if err != nil {
		t.Fatalf("first ApplyPayment: %v", err)
	}
	if !applied {
		t.Error("first ApplyPayment should apply")
	}

	applied, err = st.ApplyPayment(ctx, store.ApplyPaymentParams{OrderID: o.ID, PaymentIntent: "pi_1", EventID: "evt_second"})
	if err != nil {
		t.Fatalf("second ApplyPayment: %v", err)
	}
	if applied {
		t.Error("second ApplyPayment should be a no-op")
	}

	row, err := st.Q().GetOrderByID(ctx, o.ID)
	if err != nil {
		t.Fatalf("GetOrderByID: %v", err)
	}
	if row.Status != db.OrderStatusPending || row.StripePaymentIntent.String != "pi_1" {
		t.Errorf("order after payment: status=%q pi=%q", row.Status, row.StripePaymentIntent.String)
	}

	// The event ledger now rejects a replay of either event.
	_, err = st.Q().UpsertStripeEvent(ctx, db.UpsertStripeEventParams{
		StripeEventID: "evt_first", Type: "checkout.session.completed", Payload: []byte(`{}`),
	})
	if !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("replayed event: want sql.ErrNoRows, got %v", err)
	}
}

// ─── DecodeOrder ──────────────────────────────────────────────────────────────

func TestDecodeOrder_RejectsUnknownStatus(t *testing.T) {
	row := db.Order{
		ID:         uuid.New(),
		CsvHeaders: []byte(`["name"]`),
		CsvRows:    []byte(`[["Ann"]]`),
		Status:     db.OrderStatus("archived"),
	}
	if _, err := store.DecodeOrder(row); err == nil {
		t.Fatal("expected an error for an unknown status")
	}

	row.Status = db.OrderStatusPending
	o, err := store.DecodeOrder(row)
	if err != nil {
		t.Fatalf("DecodeOrder: %v", err)
	}
	if o.Status != order.StatusPending || len(o.Rows) != 1 {
		t.Errorf("decoded: status=%q rows=%d", o.Status, len(o.Rows))
	}
}
