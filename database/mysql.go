package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"storefront-service/models"
	"storefront-service/stock"
)

const schema = `
CREATE TABLE IF NOT EXISTS products (
	id VARCHAR(64) PRIMARY KEY,
	name VARCHAR(255) NOT NULL,
	description TEXT,
	category VARCHAR(64),
	unit VARCHAR(32),
	price DECIMAL(12,2) NOT NULL,
	original_price DECIMAL(12,2) NULL,
	stock INT NOT NULL DEFAULT 0,
	images JSON,
	seller_id VARCHAR(64) NOT NULL,
	seller_name VARCHAR(255),
	seller_address TEXT,
	seller_pincode VARCHAR(16),
	covered_pincodes JSON,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	created_at DATETIME NOT NULL
);
CREATE TABLE IF NOT EXISTS orders (
	order_id VARCHAR(64) PRIMARY KEY,
	customer_id VARCHAR(64) NOT NULL,
	seller_id VARCHAR(64) NOT NULL,
	seller_name VARCHAR(255),
	seller_address TEXT,
	seller_pincode VARCHAR(16),
	customer_name VARCHAR(255),
	customer_phone VARCHAR(32),
	customer_address TEXT,
	customer_pincode VARCHAR(16),
	total_amount DECIMAL(12,2) NOT NULL,
	status VARCHAR(32) NOT NULL,
	payment_method VARCHAR(16) NOT NULL,
	qr_code MEDIUMTEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	packed_at DATETIME NULL,
	out_for_delivery_at DATETIME NULL,
	delivered_at DATETIME NULL,
	INDEX idx_orders_customer (customer_id)
);
CREATE TABLE IF NOT EXISTS order_items (
	id BIGINT AUTO_INCREMENT PRIMARY KEY,
	order_id VARCHAR(64) NOT NULL,
	product_id VARCHAR(64) NOT NULL,
	product_name VARCHAR(255),
	price DECIMAL(12,2) NOT NULL,
	quantity INT NOT NULL,
	unit VARCHAR(32),
	INDEX idx_items_order (order_id)
);
CREATE TABLE IF NOT EXISTS users (
	id VARCHAR(64) PRIMARY KEY,
	name VARCHAR(255),
	phone VARCHAR(32),
	address TEXT,
	pincode VARCHAR(16),
	role VARCHAR(32)
);
CREATE TABLE IF NOT EXISTS user_addresses (
	user_id VARCHAR(64) PRIMARY KEY,
	address TEXT,
	pincode VARCHAR(16)
);
CREATE TABLE IF NOT EXISTS stock_ledger (
	order_id VARCHAR(64) NOT NULL,
	kind VARCHAR(16) NOT NULL,
	created_at DATETIME NOT NULL,
	PRIMARY KEY (order_id, kind)
);`

const mysqlDuplicateEntry = 1062

// MySQLStore is the production backend.
type MySQLStore struct {
	db           *sql.DB
	pollInterval time.Duration
	logger       *zap.Logger
}

var _ Store = (*MySQLStore)(nil)

// InitDB opens the pool and checks connectivity.
func InitDB(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn+"&multiStatements=true")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func NewMySQLStore(db *sql.DB, pollInterval time.Duration, logger *zap.Logger) *MySQLStore {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &MySQLStore{db: db, pollInterval: pollInterval, logger: logger.Named("mysql")}
}

func (s *MySQLStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *MySQLStore) Close() error {
	return s.db.Close()
}

const productColumns = `id, name, COALESCE(description, ''), COALESCE(category, ''), COALESCE(unit, ''), price,
	original_price, stock, images, seller_id, COALESCE(seller_name, ''), COALESCE(seller_address, ''),
	COALESCE(seller_pincode, ''), covered_pincodes, is_active, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*models.Product, error) {
	var (
		p             models.Product
		originalPrice decimal.NullDecimal
		images        []byte
		covered       []byte
	)
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.Category, &p.Unit, &p.Price, &originalPrice,
		&p.Stock, &images, &p.SellerID, &p.SellerName, &p.SellerAddress, &p.SellerPincode,
		&covered, &p.IsActive, &p.CreatedAt); err != nil {
		return nil, err
	}
	if originalPrice.Valid {
		op := originalPrice.Decimal
		p.OriginalPrice = &op
	}
	if len(images) > 0 {
		if err := json.Unmarshal(images, &p.Images); err != nil {
			return nil, fmt.Errorf("product %s images: %w", p.ID, err)
		}
	}
	if len(covered) > 0 {
		if err := json.Unmarshal(covered, &p.CoveredPincodes); err != nil {
			return nil, fmt.Errorf("product %s covered pincodes: %w", p.ID, err)
		}
	}
	return &p, nil
}

func (s *MySQLStore) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+productColumns+" FROM products WHERE id = ?", id)
	p, err := scanProduct(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (s *MySQLStore) ListProducts(ctx context.Context, category string) ([]models.Product, error) {
	query := "SELECT " + productColumns + " FROM products WHERE is_active = TRUE"
	args := []any{}
	if category != "" {
		query += " AND category = ?"
		args = append(args, category)
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (s *MySQLStore) CreateOrder(ctx context.Context, o *models.Order) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `INSERT INTO orders (order_id, customer_id, seller_id, seller_name, seller_address, seller_pincode,
		customer_name, customer_phone, customer_address, customer_pincode, total_amount, status, payment_method, qr_code,
		created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.OrderID, o.CustomerID, o.SellerID, o.SellerName, o.SellerAddress, o.SellerPincode,
		o.CustomerName, o.CustomerPhone, o.CustomerAddress, o.CustomerPincode, o.TotalAmount,
		string(o.Status), o.PaymentMethod, o.QRCode, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == mysqlDuplicateEntry {
			return "", ErrDuplicateOrder
		}
		return "", fmt.Errorf("insert order: %w", err)
	}

	for _, it := range o.Items {
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO order_items (order_id, product_id, product_name, price, quantity, unit) VALUES (?, ?, ?, ?, ?, ?)",
			o.OrderID, it.ProductID, it.ProductName, it.Price, it.Quantity, it.Unit,
		); err != nil {
			return "", fmt.Errorf("insert order item: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit: %w", err)
	}
	return o.OrderID, nil
}

const orderColumns = `order_id, customer_id, seller_id, COALESCE(seller_name, ''), COALESCE(seller_address, ''),
	COALESCE(seller_pincode, ''), COALESCE(customer_name, ''), COALESCE(customer_phone, ''),
	COALESCE(customer_address, ''), COALESCE(customer_pincode, ''), total_amount, status, payment_method,
	qr_code, created_at, updated_at, packed_at, out_for_delivery_at, delivered_at`

func scanOrder(row rowScanner) (*models.Order, error) {
	var (
		o                                 models.Order
		status                            string
		qr                                sql.NullString
		packed, outForDelivery, delivered sql.NullTime
	)
	if err := row.Scan(&o.OrderID, &o.CustomerID, &o.SellerID, &o.SellerName, &o.SellerAddress, &o.SellerPincode,
		&o.CustomerName, &o.CustomerPhone, &o.CustomerAddress, &o.CustomerPincode, &o.TotalAmount, &status,
		&o.PaymentMethod, &qr, &o.CreatedAt, &o.UpdatedAt, &packed, &outForDelivery, &delivered); err != nil {
		return nil, err
	}
	o.Status = models.OrderStatus(status)
	o.QRCode = qr.String
	if packed.Valid {
		o.PackedAt = &packed.Time
	}
	if outForDelivery.Valid {
		o.OutForDeliveryAt = &outForDelivery.Time
	}
	if delivered.Valid {
		o.DeliveredAt = &delivered.Time
	}
	return &o, nil
}

func (s *MySQLStore) loadItems(ctx context.Context, o *models.Order) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT product_id, COALESCE(product_name, ''), price, quantity, COALESCE(unit, '') FROM order_items WHERE order_id = ? ORDER BY id ASC",
		o.OrderID)
	if err != nil {
		return err
	}
	defer rows.Close()

	o.Items = make([]models.OrderItem, 0)
	for rows.Next() {
		var it models.OrderItem
		if err := rows.Scan(&it.ProductID, &it.ProductName, &it.Price, &it.Quantity, &it.Unit); err != nil {
			return err
		}
		o.Items = append(o.Items, it)
	}
	return rows.Err()
}

func (s *MySQLStore) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+orderColumns+" FROM orders WHERE order_id = ?", orderID)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := s.loadItems(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (s *MySQLStore) ListOrdersByCustomer(ctx context.Context, customerID string) ([]models.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+orderColumns+" FROM orders WHERE customer_id = ? ORDER BY created_at DESC", customerID)
	if err != nil {
		return nil, err
	}
	orders := make([]models.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range orders {
		if err := s.loadItems(ctx, &orders[i]); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (s *MySQLStore) TransitionStatus(ctx context.Context, orderID string, from, to models.OrderStatus, at time.Time) error {
	var column string
	switch to {
	case models.OrderStatusPacked:
		column = ", packed_at = ?"
	case models.OrderStatusOutForDelivery:
		column = ", out_for_delivery_at = ?"
	case models.OrderStatusDelivered:
		column = ", delivered_at = ?"
	}
	args := []any{string(to), at}
	if column != "" {
		args = append(args, at)
	}
	args = append(args, orderID, string(from))

	result, err := s.db.ExecContext(ctx,
		"UPDATE orders SET status = ?, updated_at = ?"+column+" WHERE order_id = ? AND status = ?", args...)
	if err != nil {
		return err
	}
	if n, _ := result.RowsAffected(); n > 0 {
		return nil
	}

	var current string
	err = s.db.QueryRowContext(ctx, "SELECT status FROM orders WHERE order_id = ?", orderID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrStatusConflict
}

func (s *MySQLStore) GetUserProfile(ctx context.Context, userID string) (*models.UserProfile, error) {
	var (
		u                                   models.UserProfile
		name, phone, address, pincode, role sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, phone, address, pincode, role FROM users WHERE id = ?", userID,
	).Scan(&u.ID, &name, &phone, &address, &pincode, &role)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Name, u.Phone, u.Address, u.Pincode, u.Role = name.String, phone.String, address.String, pincode.String, role.String
	return &u, nil
}

func (s *MySQLStore) GetUserAddress(ctx context.Context, userID string) (*models.UserAddress, error) {
	var (
		a                models.UserAddress
		address, pincode sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT user_id, address, pincode FROM user_addresses WHERE user_id = ?", userID,
	).Scan(&a.UserID, &address, &pincode)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Address, a.Pincode = address.String, pincode.String
	return &a, nil
}

func (s *MySQLStore) UpdateUserProfile(ctx context.Context, p *models.UserProfile) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, phone, address, pincode, role) VALUES (?, ?, ?, ?, ?, '')
		ON DUPLICATE KEY UPDATE name = VALUES(name), phone = VALUES(phone), address = VALUES(address), pincode = VALUES(pincode)`,
		p.ID, p.Name, p.Phone, p.Address, p.Pincode)
	return err
}

func (s *MySQLStore) SaveUserAddress(ctx context.Context, a *models.UserAddress) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_addresses (user_id, address, pincode) VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE address = VALUES(address), pincode = VALUES(pincode)`,
		a.UserID, a.Address, a.Pincode)
	return err
}

func (s *MySQLStore) GetStock(ctx context.Context, productID string) (int, error) {
	var q int
	err := s.db.QueryRowContext(ctx, "SELECT stock FROM products WHERE id = ?", productID).Scan(&q)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, stock.ErrUnknownProduct
	}
	return q, err
}

// Subscribe polls the products table and reports quantities that changed
// since the previous poll. The first poll reports every known product.
func (s *MySQLStore) Subscribe(ctx context.Context, productIDs []string, onChange func(productID string, quantity int)) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	ids := append([]string(nil), productIDs...)
	last := make(map[string]int, len(ids))

	poll := func() {
		for _, id := range ids {
			q, err := s.GetStock(ctx, id)
			if err != nil {
				if ctx.Err() == nil && !errors.Is(err, stock.ErrUnknownProduct) {
					s.logger.Warn("stock poll failed", zap.String("product_id", id), zap.Error(err))
				}
				continue
			}
			if prev, ok := last[id]; ok && prev == q {
				continue
			}
			last[id] = q
			onChange(id, q)
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		poll()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				poll()
			}
		}
	}()

	return func() {
		cancel()
		wg.Wait()
	}, nil
}

func (s *MySQLStore) DecrementStock(ctx context.Context, lines []models.StockLine, orderID string) (bool, error) {
	return s.adjust(ctx, lines, orderID, ledgerDecrement)
}

// RestoreStock returns stock taken for orderID. Orders whose decrement never
// happened have nothing to return.
func (s *MySQLStore) RestoreStock(ctx context.Context, lines []models.StockLine, orderID string) (bool, error) {
	return s.adjust(ctx, lines, orderID, ledgerRestore)
}

func (s *MySQLStore) adjust(ctx context.Context, lines []models.StockLine, orderID, kind string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	if kind == ledgerRestore {
		var taken int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM stock_ledger WHERE order_id = ? AND kind = ?", orderID, ledgerDecrement,
		).Scan(&taken); err != nil {
			return false, err
		}
		if taken == 0 {
			return true, nil
		}
	}

	result, err := tx.ExecContext(ctx,
		"INSERT IGNORE INTO stock_ledger (order_id, kind, created_at) VALUES (?, ?, ?)",
		orderID, kind, time.Now().UTC())
	if err != nil {
		return false, err
	}
	if n, _ := result.RowsAffected(); n == 0 {
		// already applied for this order
		return true, nil
	}

	for _, l := range lines {
		var res sql.Result
		if kind == ledgerDecrement {
			res, err = tx.ExecContext(ctx,
				"UPDATE products SET stock = stock - ? WHERE id = ? AND stock >= ?",
				l.Quantity, l.ProductID, l.Quantity)
		} else {
			res, err = tx.ExecContext(ctx,
				"UPDATE products SET stock = stock + ? WHERE id = ?",
				l.Quantity, l.ProductID)
		}
		if err != nil {
			return false, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return false, nil
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}
