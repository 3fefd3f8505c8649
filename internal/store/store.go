package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

var (
	// ErrNotFound is returned by single-row lookups that match nothing.
	ErrNotFound = apperr.New(apperr.KindNotFound, "not_found", "store: not found")
	// ErrInsufficientPoints is returned when a point deduction would go negative.
	ErrInsufficientPoints = apperr.New(apperr.KindConflict, "insufficient_points", "store: insufficient loyalty points")
)

// Repository is the persistence surface used by the services. It is
// implemented both by the pooled Store and by the transaction-scoped Queries.
type Repository interface {
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
	DecrementStock(ctx context.Context, productID int64, quantity int) (before int, err error)

	GetCartLines(ctx context.Context, userID int64) ([]models.CartLine, error)
	GetCartLinesForUpdate(ctx context.Context, userID int64) ([]models.CartLine, error)
	GetCartLine(ctx context.Context, userID, lineID int64) (*models.CartLine, error)
	FindCartLine(ctx context.Context, userID, productID int64, bonusOf *int64) (*models.CartLine, error)
	InsertCartLine(ctx context.Context, line *models.CartLine) error
	UpdateCartLine(ctx context.Context, lineID int64, quantity int, unitPrice int64) error
	DeleteCartLine(ctx context.Context, userID, lineID int64) error
	DeleteBonusLines(ctx context.Context, userID, parentProductID int64) error
	DeleteCartLines(ctx context.Context, userID int64, lineIDs []int64) (int64, error)
	ClearCart(ctx context.Context, userID int64) (int64, error)

	GetUser(ctx context.Context, id int64) (*models.User, error)
	LockUser(ctx context.Context, id int64) (*models.User, error)
	AdjustPoints(ctx context.Context, userID int64, delta int) error

	GetVoucherByCode(ctx context.Context, code string) (*models.Voucher, error)

	InsertOrder(ctx context.Context, order *models.Order) error
	InsertOrderLine(ctx context.Context, line *models.OrderLine) error
	GetOrder(ctx context.Context, id int64) (*models.Order, error)
	LockOrder(ctx context.Context, id int64) (*models.Order, error)
	GetOrderLines(ctx context.Context, orderID int64) ([]models.OrderLine, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, status models.OrderStatus, paidAt *time.Time) error
	ListOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error)

	InsertShipping(ctx context.Context, shipping *models.Shipping) error
	GetShipping(ctx context.Context, orderID int64) (*models.Shipping, error)

	InsertPayment(ctx context.Context, payment *models.Payment) error
	GetPaymentByOrder(ctx context.Context, orderID int64) (*models.Payment, error)
	UpdatePaymentStatus(ctx context.Context, orderID int64, status models.PaymentStatus) error

	InsertGatewayTransaction(ctx context.Context, txn *models.GatewayTransaction) (bool, error)
	GetGatewayTransactions(ctx context.Context, orderID int64) ([]models.GatewayTransaction, error)

	InsertNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, channel string, limit int) ([]models.Notification, error)
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// Transactor runs fn inside one database transaction. fn's error rolls back
// everything fn did.
type Transactor interface {
	Repository
	WithTx(ctx context.Context, fn func(tx Repository) error) error
}

// dbtx is satisfied by both *sqlx.DB and *sqlx.Tx.
type dbtx interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// Queries holds every statement; it runs against the pool or a transaction.
type Queries struct {
	q dbtx
}

type Store struct {
	*Queries
	db *sqlx.DB
}

var _ Transactor = (*Store)(nil)

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{Queries: &Queries{q: db}, db: db}, nil
}

// RunMigrations applies the embedded schema migrations.
func (s *Store) RunMigrations() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("could not open migrations: %w", err)
	}

	driver, err := postgres.WithInstance(s.db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Ping checks database connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// WithTx runs fn in a READ COMMITTED transaction. Row-level consistency comes
// from the FOR UPDATE lookups fn issues.
func (s *Store) WithTx(ctx context.Context, fn func(tx Repository) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&Queries{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func notFound(err error, format string, args ...interface{}) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound.Withf(format, args...)
	}
	return err
}
