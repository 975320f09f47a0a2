// Package clinictest provisions throwaway clinic databases for tests.
package clinictest

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/clinicsql/clinicsql/internal/config"
	"github.com/clinicsql/clinicsql/internal/migrations"
	"github.com/clinicsql/clinicsql/internal/store"
)

// DiamondCustomers is how many 钻石 customers Seed inserts.
const DiamondCustomers = 3

// Customers is the total number of customers Seed inserts.
const Customers = 10

const seedSQL = `
INSERT INTO consultants (consultant_id, name, department) VALUES
	(1, '王医生', '皮肤科'),
	(2, '李医生', '整形外科');

INSERT INTO customers (customer_id, name, phone, register_date, last_visit_date, consultant_id, health_tags, membership_level) VALUES
	(1, '张伟', '13800000001', DATE '2023-01-05', DATE '2024-05-01', 1, '["敏感肌"]', '钻石'),
	(2, '王芳', '13800000002', DATE '2023-02-11', DATE '2024-04-12', 2, NULL, '钻石'),
	(3, '李娜', '13800000003', DATE '2023-03-20', NULL, 1, NULL, '钻石'),
	(4, '刘洋', '13800000004', DATE '2023-04-02', DATE '2024-01-09', 2, NULL, '黄金'),
	(5, '陈静', '13800000005', DATE '2023-05-15', NULL, 1, '["高血压"]', '黄金'),
	(6, '杨磊', NULL, DATE '2023-06-30', NULL, NULL, NULL, '白银'),
	(7, '赵敏', '13800000007', DATE '2023-07-07', DATE '2024-03-03', 1, NULL, '白银'),
	(8, '黄强', '13800000008', DATE '2023-08-18', NULL, 2, NULL, '普通'),
	(9, '周杰', '13800000009', DATE '2023-09-09', NULL, 2, NULL, '普通'),
	(10, '吴婷', '13800000010', DATE '2023-10-10', NULL, 1, NULL, '普通');

INSERT INTO medical_products (product_id, product_name, department, product_type, standard_price) VALUES
	(1, '水光针', '无创科', '流量品', 980.0),
	(2, '双眼皮手术', '整形外科', '高价款', 12800.0);

INSERT INTO consumption_records (record_id, customer_id, consume_date, amount, department, is_new_customer, consultant_id, product_id, quantity, payment_method, related_campaign) VALUES
	(1, 1, DATE '2024-01-10', 980.0, '无创科', TRUE, 1, 1, 1, '银行卡', '新春活动'),
	(2, 2, DATE '2024-02-14', 12800.0, '整形外科', TRUE, 2, 2, 1, '分期', NULL),
	(3, 1, DATE '2024-03-01', 1960.0, '无创科', FALSE, 1, 1, 2, '现金', NULL);

INSERT INTO write_off_records (write_off_id, customer_id, write_off_date, amount, department, product_id, quantity, consultant_id, consume_record_id, write_off_type) VALUES
	(1, 1, DATE '2024-01-20', 980.0, '无创科', 1, 1, 1, 1, '正常划扣');

INSERT INTO unspent_balances (balance_id, customer_id, product_id, total_amount, spent_amount, last_write_off_date, expiration_date) VALUES
	(1, 1, 1, 1960.0, 980.0, DATE '2024-01-20', DATE '2025-03-01'),
	(2, 2, 2, 12800.0, 0, NULL, NULL);
`

// TableRows maps each seeded table to its row count.
var TableRows = map[string]int64{
	"consultants":         2,
	"customers":           Customers,
	"medical_products":    2,
	"consumption_records": 3,
	"write_off_records":   1,
	"unspent_balances":    2,
}

// OpenDuckDB returns an in-memory DuckDB with the clinic schema applied and
// the sample rows loaded, opened like a read-only store. It is closed when
// the test ends.
func OpenDuckDB(t testing.TB) *sql.DB {
	t.Helper()
	db, err := sql.Open("duckdb", store.DuckDBDSN(config.StoreConfig{ReadOnly: true}))
	if err != nil {
		t.Fatalf("sql.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if _, err := migrations.NewRunner(config.DriverDuckDB).Up(context.Background(), db, 0); err != nil {
		t.Fatalf("migrations Up() error = %v", err)
	}
	if _, err := db.Exec(seedSQL); err != nil {
		t.Fatalf("seed error = %v", err)
	}
	return db
}

// CountRows returns the row count of every seeded table.
func CountRows(t testing.TB, db *sql.DB) map[string]int64 {
	t.Helper()
	counts := map[string]int64{}
	for table := range TableRows {
		var count int64
		if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		counts[table] = count
	}
	return counts
}
