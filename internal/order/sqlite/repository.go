// Package sqlite provides the SQLite-backed implementation of order.Store.
//
// WAL mode is enabled on Open so that readers never block writers and vice
// versa — the tracking page reads while webhook deliveries write.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/oakline/storefront/internal/order"

	// Register the pure-Go SQLite driver. modernc.org/sqlite avoids CGO,
	// which keeps the Docker build on Alpine simple.
	_ "modernc.org/sqlite"
)

// schema is the DDL executed once on startup. Orders are permanent audit
// records: there is no DELETE anywhere in this package.
const schema = `
CREATE TABLE IF NOT EXISTS orders (
    id                  INTEGER PRIMARY KEY AUTOINCREMENT,

    -- Human-presentable correlation key, generated at checkout.
    code                TEXT    NOT NULL UNIQUE,

    status              TEXT    NOT NULL,

    customer_name       TEXT    NOT NULL,
    customer_email      TEXT    NOT NULL,
    customer_phone      TEXT    NOT NULL DEFAULT '',

    -- Postal addresses stored as JSON TEXT (SQLite idiom).
    billing_address     TEXT    NOT NULL DEFAULT '{}',
    shipping_address    TEXT    NOT NULL DEFAULT '{}',

    -- Monetary snapshot in minor units.
    subtotal            INTEGER NOT NULL,
    shipping_cost       INTEGER NOT NULL DEFAULT 0,
    tax                 INTEGER NOT NULL DEFAULT 0,
    total               INTEGER NOT NULL,
    currency            TEXT    NOT NULL DEFAULT 'USD',

    gateway_session_id  TEXT    NOT NULL DEFAULT '',
    gateway_payment_id  TEXT    NOT NULL DEFAULT '',

    -- RFC3339 stored as TEXT (SQLite has no native datetime type).
    created_at          TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_session ON orders(gateway_session_id);

-- Frozen line-item snapshot. Written once at order creation, never updated.
CREATE TABLE IF NOT EXISTS order_items (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id    INTEGER NOT NULL REFERENCES orders(id),
    product_id  TEXT    NOT NULL,
    name        TEXT    NOT NULL,
    variant     TEXT    NOT NULL DEFAULT '',
    unit_price  INTEGER NOT NULL,
    quantity    INTEGER NOT NULL,
    image_url   TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_order_items_order ON order_items(order_id);

-- Append-only log of dispatched notifications. The UNIQUE constraint is the
-- at-most-once guarantee for each email type per order.
CREATE TABLE IF NOT EXISTS order_emails (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    order_id    INTEGER NOT NULL REFERENCES orders(id),
    email_type  TEXT    NOT NULL,
    recipient   TEXT    NOT NULL,
    sent_at     TEXT    NOT NULL,
    UNIQUE(order_id, email_type)
);

-- Append-only reconciliation audit trail: one row per webhook delivery,
-- whatever its outcome. trace_id/span_id link a row to the distributed trace.
CREATE TABLE IF NOT EXISTS order_events (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    order_code  TEXT    NOT NULL DEFAULT '',
    event_type  TEXT    NOT NULL,
    outcome     TEXT    NOT NULL,
    payment_id  TEXT    NOT NULL DEFAULT '',
    trace_id    TEXT    NOT NULL DEFAULT '',
    span_id     TEXT    NOT NULL DEFAULT '',
    created_at  TEXT    NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_order_events_code ON order_events(order_code, created_at);
`

// Repository is the SQLite implementation of order.Store.
type Repository struct {
	db *sql.DB
}

var _ order.Store = (*Repository)(nil)

// Open opens (or creates) the SQLite database at the given path and applies
// the schema.
//
//	repo, err := sqlite.Open("./data/storefront.db")
func Open(path string) (*Repository, error) {
	// _pragma query parameters configure connection state for the pure-Go
	// driver. WAL enables concurrent readers; busy_timeout waits for locks
	// instead of failing immediately.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}

	// SQLite performs best with a single writer connection.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}

	return &Repository{db: db}, nil
}

// Close releases the database connection. Call it with defer in main().
func (r *Repository) Close() error {
	return r.db.Close()
}

// Create inserts the order and its item snapshot in one transaction and sets
// o.ID to the assigned primary key.
func (r *Repository) Create(ctx context.Context, o *order.Order) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin create: %w", err)
	}
	defer tx.Rollback()

	billing, err := json.Marshal(o.BillingAddress)
	if err != nil {
		return fmt.Errorf("sqlite: marshal billing address: %w", err)
	}
	shipping, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return fmt.Errorf("sqlite: marshal shipping address: %w", err)
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO orders
			(code, status, customer_name, customer_email, customer_phone,
			 billing_address, shipping_address,
			 subtotal, shipping_cost, tax, total, currency,
			 gateway_session_id, gateway_payment_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.Code,
		string(o.Status),
		o.Customer.Name,
		o.Customer.Email,
		o.Customer.Phone,
		string(billing),
		string(shipping),
		o.Subtotal,
		o.ShippingCost,
		o.Tax,
		o.Total,
		o.Currency,
		o.GatewaySessionID,
		o.GatewayPaymentID,
		formatTime(o.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert order %q: %w", o.Code, err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("sqlite: order id for %q: %w", o.Code, err)
	}

	for _, it := range o.Items {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO order_items (order_id, product_id, name, variant, unit_price, quantity, image_url)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			id, it.ProductID, it.Name, it.Variant, it.UnitPrice, it.Quantity, it.ImageURL,
		)
		if err != nil {
			return fmt.Errorf("sqlite: insert item for order %q: %w", o.Code, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit create for %q: %w", o.Code, err)
	}

	o.ID = id
	return nil
}

func (r *Repository) GetByID(ctx context.Context, id int64) (*order.Order, error) {
	return r.getOne(ctx, `WHERE id = ?`, id)
}

func (r *Repository) GetByCode(ctx context.Context, code string) (*order.Order, error) {
	return r.getOne(ctx, `WHERE code = ?`, code)
}

func (r *Repository) GetBySessionID(ctx context.Context, sessionID string) (*order.Order, error) {
	if sessionID == "" {
		return nil, order.ErrOrderNotFound
	}
	return r.getOne(ctx, `WHERE gateway_session_id = ?`, sessionID)
}

// LinkSession records the gateway session id. The column starts empty and is
// written once; re-linking an order to a different session is refused.
func (r *Repository) LinkSession(ctx context.Context, id int64, sessionID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders SET gateway_session_id = ?
		WHERE id = ? AND (gateway_session_id = '' OR gateway_session_id = ?)`,
		sessionID, id, sessionID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: link session for order %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: link session rows for order %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("sqlite: link session for order %d: %w", id, order.ErrInvalidTransition)
	}
	return nil
}

// MarkPaid is the pending→paid compare-and-set. The status predicate in the
// WHERE clause means two concurrent deliveries for the same payment resolve
// to exactly one effective transition; the loser observes false.
func (r *Repository) MarkPaid(ctx context.Context, id int64, patch order.PaidPatch) (bool, error) {
	shipping, err := json.Marshal(patch.ShippingAddress)
	if err != nil {
		return false, fmt.Errorf("sqlite: marshal shipping address: %w", err)
	}

	res, err := r.db.ExecContext(ctx, `
		UPDATE orders SET
			status = ?,
			gateway_payment_id = ?,
			shipping_address = ?,
			shipping_cost = ?,
			tax = ?,
			total = ?,
			currency = ?
		WHERE id = ? AND status = ?`,
		string(order.StatusPaid),
		patch.GatewayPaymentID,
		string(shipping),
		patch.ShippingCost,
		patch.Tax,
		patch.Total,
		patch.Currency,
		id,
		string(order.StatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: mark order %d paid: %w", id, err)
	}
	return oneRowChanged(res, "mark paid", id)
}

func (r *Repository) MarkFailed(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders SET status = ? WHERE id = ? AND status = ?`,
		string(order.StatusFailed), id, string(order.StatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: mark order %d failed: %w", id, err)
	}
	return oneRowChanged(res, "mark failed", id)
}

func (r *Repository) MarkRefunded(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE orders SET status = ? WHERE id = ? AND status = ?`,
		string(order.StatusRefunded), id, string(order.StatusPaid),
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: mark order %d refunded: %w", id, err)
	}
	return oneRowChanged(res, "mark refunded", id)
}

// AppendEmailSent appends to the email log. INSERT OR IGNORE plus the UNIQUE
// index collapses a concurrent double-append into a single row; the loser
// gets false and no error.
func (r *Repository) AppendEmailSent(ctx context.Context, id int64, rec order.EmailRecord) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO order_emails (order_id, email_type, recipient, sent_at)
		VALUES (?, ?, ?, ?)`,
		id, rec.Type, rec.Recipient, formatTime(rec.SentAt),
	)
	if err != nil {
		return false, fmt.Errorf("sqlite: append email for order %d: %w", id, err)
	}
	return oneRowChanged(res, "append email", id)
}

// AppendEvent inserts a reconciliation audit row. The table is append-only.
func (r *Repository) AppendEvent(ctx context.Context, entry *order.EventRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO order_events (order_code, event_type, outcome, payment_id, trace_id, span_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.OrderCode,
		entry.EventType,
		string(entry.Outcome),
		entry.PaymentID,
		entry.TraceID,
		entry.SpanID,
		formatTime(entry.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("sqlite: append event %q for %q: %w", entry.EventType, entry.OrderCode, err)
	}
	return nil
}

func (r *Repository) getOne(ctx context.Context, where string, arg any) (*order.Order, error) {
	q := `
		SELECT id, code, status, customer_name, customer_email, customer_phone,
		       billing_address, shipping_address,
		       subtotal, shipping_cost, tax, total, currency,
		       gateway_session_id, gateway_payment_id, created_at
		FROM   orders ` + where

	row := r.db.QueryRowContext(ctx, q, arg)

	var o order.Order
	var billing, shipping, createdAt string
	err := row.Scan(
		&o.ID,
		&o.Code,
		&o.Status,
		&o.Customer.Name,
		&o.Customer.Email,
		&o.Customer.Phone,
		&billing,
		&shipping,
		&o.Subtotal,
		&o.ShippingCost,
		&o.Tax,
		&o.Total,
		&o.Currency,
		&o.GatewaySessionID,
		&o.GatewayPaymentID,
		&createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, order.ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: scan order: %w", err)
	}

	if err := json.Unmarshal([]byte(billing), &o.BillingAddress); err != nil {
		return nil, fmt.Errorf("sqlite: decode billing address for %q: %w", o.Code, err)
	}
	if err := json.Unmarshal([]byte(shipping), &o.ShippingAddress); err != nil {
		return nil, fmt.Errorf("sqlite: decode shipping address for %q: %w", o.Code, err)
	}
	if o.CreatedAt, err = parseRFC3339(createdAt); err != nil {
		return nil, err
	}

	if err := r.loadItems(ctx, &o); err != nil {
		return nil, err
	}
	if err := r.loadEmails(ctx, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *Repository) loadItems(ctx context.Context, o *order.Order) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT product_id, name, variant, unit_price, quantity, image_url
		FROM   order_items
		WHERE  order_id = ?
		ORDER  BY id`, o.ID)
	if err != nil {
		return fmt.Errorf("sqlite: load items for %q: %w", o.Code, err)
	}
	defer rows.Close()

	for rows.Next() {
		var it order.Item
		if err := rows.Scan(&it.ProductID, &it.Name, &it.Variant, &it.UnitPrice, &it.Quantity, &it.ImageURL); err != nil {
			return fmt.Errorf("sqlite: scan item for %q: %w", o.Code, err)
		}
		o.Items = append(o.Items, it)
	}
	return rows.Err()
}

func (r *Repository) loadEmails(ctx context.Context, o *order.Order) error {
	rows, err := r.db.QueryContext(ctx, `
		SELECT email_type, recipient, sent_at
		FROM   order_emails
		WHERE  order_id = ?
		ORDER  BY id`, o.ID)
	if err != nil {
		return fmt.Errorf("sqlite: load emails for %q: %w", o.Code, err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec order.EmailRecord
		var sentAt string
		if err := rows.Scan(&rec.Type, &rec.Recipient, &sentAt); err != nil {
			return fmt.Errorf("sqlite: scan email for %q: %w", o.Code, err)
		}
		if rec.SentAt, err = parseRFC3339(sentAt); err != nil {
			return err
		}
		o.EmailsSent = append(o.EmailsSent, rec)
	}
	return rows.Err()
}

func oneRowChanged(res sql.Result, op string, id int64) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: %s rows for order %d: %w", op, id, err)
	}
	return n == 1, nil
}
