package snapshot

import (
	"bytes"
	"database/sql"
	"fmt"
	"time"

	"github.com/parquet-go/parquet-go"
)

// Dates are stored as YYYY-MM-DD strings; the query engine casts them back.
const dateLayout = "2006-01-02"

type consultantRow struct {
	ConsultantID int64  `parquet:"consultant_id"`
	Name         string `parquet:"name"`
	Department   string `parquet:"department"`
}

type customerRow struct {
	CustomerID      int64   `parquet:"customer_id"`
	Name            string  `parquet:"name"`
	Phone           *string `parquet:"phone"`
	RegisterDate    string  `parquet:"register_date"`
	LastVisitDate   *string `parquet:"last_visit_date"`
	ConsultantID    *int64  `parquet:"consultant_id"`
	HealthTags      *string `parquet:"health_tags"`
	MembershipLevel string  `parquet:"membership_level"`
}

type productRow struct {
	ProductID     int64   `parquet:"product_id"`
	ProductName   string  `parquet:"product_name"`
	Department    string  `parquet:"department"`
	ProductType   string  `parquet:"product_type"`
	StandardPrice float64 `parquet:"standard_price"`
}

type consumptionRow struct {
	RecordID        int64   `parquet:"record_id"`
	CustomerID      int64   `parquet:"customer_id"`
	ConsumeDate     string  `parquet:"consume_date"`
	Amount          float64 `parquet:"amount"`
	Department      string  `parquet:"department"`
	IsNewCustomer   bool    `parquet:"is_new_customer"`
	ConsultantID    *int64  `parquet:"consultant_id"`
	ProductID       *int64  `parquet:"product_id"`
	Quantity        int64   `parquet:"quantity"`
	PaymentMethod   *string `parquet:"payment_method"`
	RelatedCampaign *string `parquet:"related_campaign"`
}

type writeOffRow struct {
	WriteOffID      int64   `parquet:"write_off_id"`
	CustomerID      int64   `parquet:"customer_id"`
	WriteOffDate    string  `parquet:"write_off_date"`
	Amount          float64 `parquet:"amount"`
	Department      string  `parquet:"department"`
	ProductID       *int64  `parquet:"product_id"`
	Quantity        int64   `parquet:"quantity"`
	ConsultantID    *int64  `parquet:"consultant_id"`
	ConsumeRecordID *int64  `parquet:"consume_record_id"`
	WriteOffType    *string `parquet:"write_off_type"`
}

type balanceRow struct {
	BalanceID        int64   `parquet:"balance_id"`
	CustomerID       int64   `parquet:"customer_id"`
	ProductID        *int64  `parquet:"product_id"`
	TotalAmount      float64 `parquet:"total_amount"`
	SpentAmount      float64 `parquet:"spent_amount"`
	LastWriteOffDate *string `parquet:"last_write_off_date"`
	ExpirationDate   *string `parquet:"expiration_date"`
}

type encodedTable struct {
	Data []byte
	Rows int64
}

// tableEncoder reads every row of one table and encodes it as Parquet.
type tableEncoder func(rows *sql.Rows) (encodedTable, error)

var tableEncoders = map[string]tableEncoder{
	"consultants": func(rows *sql.Rows) (encodedTable, error) {
		return encodeRows(rows, func(rows *sql.Rows) (consultantRow, error) {
			var row consultantRow
			err := rows.Scan(&row.ConsultantID, &row.Name, &row.Department)
			return row, err
		})
	},
	"customers": func(rows *sql.Rows) (encodedTable, error) {
		return encodeRows(rows, func(rows *sql.Rows) (customerRow, error) {
			var (
				row        customerRow
				phone      sql.NullString
				registered time.Time
				lastVisit  sql.NullTime
				consultant sql.NullInt64
				tags       sql.NullString
			)
			if err := rows.Scan(&row.CustomerID, &row.Name, &phone, &registered, &lastVisit, &consultant, &tags, &row.MembershipLevel); err != nil {
				return row, err
			}
			row.Phone = nullString(phone)
			row.RegisterDate = registered.Format(dateLayout)
			row.LastVisitDate = nullDate(lastVisit)
			row.ConsultantID = nullInt(consultant)
			row.HealthTags = nullString(tags)
			return row, nil
		})
	},
	"medical_products": func(rows *sql.Rows) (encodedTable, error) {
		return encodeRows(rows, func(rows *sql.Rows) (productRow, error) {
			var row productRow
			err := rows.Scan(&row.ProductID, &row.ProductName, &row.Department, &row.ProductType, &row.StandardPrice)
			return row, err
		})
	},
	"consumption_records": func(rows *sql.Rows) (encodedTable, error) {
		return encodeRows(rows, func(rows *sql.Rows) (consumptionRow, error) {
			var (
				row        consumptionRow
				consumed   time.Time
				consultant sql.NullInt64
				product    sql.NullInt64
				payment    sql.NullString
				campaign   sql.NullString
			)
			if err := rows.Scan(&row.RecordID, &row.CustomerID, &consumed, &row.Amount, &row.Department, &row.IsNewCustomer,
				&consultant, &product, &row.Quantity, &payment, &campaign); err != nil {
				return row, err
			}
			row.ConsumeDate = consumed.Format(dateLayout)
			row.ConsultantID = nullInt(consultant)
			row.ProductID = nullInt(product)
			row.PaymentMethod = nullString(payment)
			row.RelatedCampaign = nullString(campaign)
			return row, nil
		})
	},
	"write_off_records": func(rows *sql.Rows) (encodedTable, error) {
		return encodeRows(rows, func(rows *sql.Rows) (writeOffRow, error) {
			var (
				row        writeOffRow
				writtenOff time.Time
				product    sql.NullInt64
				consultant sql.NullInt64
				record     sql.NullInt64
				kind       sql.NullString
			)
			if err := rows.Scan(&row.WriteOffID, &row.CustomerID, &writtenOff, &row.Amount, &row.Department,
				&product, &row.Quantity, &consultant, &record, &kind); err != nil {
				return row, err
			}
			row.WriteOffDate = writtenOff.Format(dateLayout)
			row.ProductID = nullInt(product)
			row.ConsultantID = nullInt(consultant)
			row.ConsumeRecordID = nullInt(record)
			row.WriteOffType = nullString(kind)
			return row, nil
		})
	},
	"unspent_balances": func(rows *sql.Rows) (encodedTable, error) {
		return encodeRows(rows, func(rows *sql.Rows) (balanceRow, error) {
			var (
				row          balanceRow
				product      sql.NullInt64
				lastWriteOff sql.NullTime
				expiration   sql.NullTime
			)
			if err := rows.Scan(&row.BalanceID, &row.CustomerID, &product, &row.TotalAmount, &row.SpentAmount, &lastWriteOff, &expiration); err != nil {
				return row, err
			}
			row.ProductID = nullInt(product)
			row.LastWriteOffDate = nullDate(lastWriteOff)
			row.ExpirationDate = nullDate(expiration)
			return row, nil
		})
	},
}

func encodeRows[T any](rows *sql.Rows, scan func(*sql.Rows) (T, error)) (encodedTable, error) {
	values := make([]T, 0)
	for rows.Next() {
		value, err := scan(rows)
		if err != nil {
			return encodedTable{}, fmt.Errorf("scan row: %w", err)
		}
		values = append(values, value)
	}
	if err := rows.Err(); err != nil {
		return encodedTable{}, fmt.Errorf("iterate rows: %w", err)
	}

	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[T](buf)
	if len(values) > 0 {
		if _, err := writer.Write(values); err != nil {
			return encodedTable{}, fmt.Errorf("write parquet rows: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return encodedTable{}, fmt.Errorf("close parquet writer: %w", err)
	}
	return encodedTable{Data: buf.Bytes(), Rows: int64(len(values))}, nil
}

func nullString(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}

func nullInt(value sql.NullInt64) *int64 {
	if !value.Valid {
		return nil
	}
	return &value.Int64
}

func nullDate(value sql.NullTime) *string {
	if !value.Valid {
		return nil
	}
	formatted := value.Time.Format(dateLayout)
	return &formatted
}
