package schema

import (
	"fmt"
	"strings"
)

const ClinicVersion = "clinic/v1"

// Membership tiers in ascending order.
const (
	TierBase    = "普通"
	TierSilver  = "白银"
	TierGold    = "黄金"
	TierDiamond = "钻石"
)

const (
	DeptDermatology    = "皮肤科"
	DeptNonInvasive    = "无创科"
	DeptPlasticSurgery = "整形外科"
	DeptGeneral        = "综合"
)

const (
	ProductTraffic = "流量品"
	ProductProfit  = "利润品"
	ProductPremium = "高价款"
)

const (
	WriteOffNormal   = "正常划扣"
	WriteOffCampaign = "活动核销"
	WriteOffPackage  = "套餐消耗"
)

var (
	MembershipTiers = []string{TierBase, TierSilver, TierGold, TierDiamond}
	ConsultantDepts = []string{DeptDermatology, DeptNonInvasive, DeptPlasticSurgery}
	RecordDepts     = []string{DeptDermatology, DeptNonInvasive, DeptPlasticSurgery, DeptGeneral}
	ProductTypes    = []string{ProductTraffic, ProductProfit, ProductPremium}
	PaymentMethods  = []string{"现金", "银行卡", "分期", "医保"}
	WriteOffTypes   = []string{WriteOffNormal, WriteOffCampaign, WriteOffPackage}
)

// TierRank returns the position of a membership tier, or -1 if unknown.
func TierRank(tier string) int {
	for i, candidate := range MembershipTiers {
		if candidate == tier {
			return i
		}
	}
	return -1
}

// TierOrderSQL ranks column by membership tier, lowest first, for use in
// ORDER BY or tier comparisons.
func TierOrderSQL(column string) string {
	var b strings.Builder
	b.WriteString("CASE ")
	b.WriteString(column)
	for _, tier := range MembershipTiers {
		fmt.Fprintf(&b, " WHEN '%s' THEN %d", tier, TierRank(tier))
	}
	b.WriteString(" END")
	return b.String()
}

func tierOrderNote() string {
	return "membership_level is ordinal, not alphabetical; to sort or compare tiers use " + TierOrderSQL("membership_level") + "."
}

// Clinic returns the descriptor for the clinic dataset. Regenerate the
// version when the underlying tables change.
func Clinic() Schema {
	return Schema{
		Version: ClinicVersion,
		Tables: []Table{
			{
				Name:    "customers",
				Comment: "clinic customers",
				Columns: []Column{
					{Name: "customer_id", Type: TypeInteger, PrimaryKey: true},
					{Name: "name", Type: TypeText},
					{Name: "phone", Type: TypeText, Nullable: true, Comment: "unique"},
					{Name: "register_date", Type: TypeDate},
					{Name: "last_visit_date", Type: TypeDate, Nullable: true},
					{Name: "consultant_id", Type: TypeInteger, References: "consultants.consultant_id", Comment: "assigned consultant"},
					{Name: "health_tags", Type: TypeJSON, Nullable: true, Comment: "free-form tags such as allergies or chronic conditions, stored as JSON text"},
					{Name: "membership_level", Type: TypeText, Enum: MembershipTiers, Comment: "ordered Base < Silver < Gold < Diamond"},
				},
			},
			{
				Name:    "consultants",
				Comment: "consultants who own customer relationships",
				Columns: []Column{
					{Name: "consultant_id", Type: TypeInteger, PrimaryKey: true},
					{Name: "name", Type: TypeText},
					{Name: "department", Type: TypeText, Enum: ConsultantDepts, Comment: "Dermatology, Non-invasive, Plastic Surgery"},
				},
			},
			{
				Name:    "medical_products",
				Comment: "products and treatments on sale",
				Columns: []Column{
					{Name: "product_id", Type: TypeInteger, PrimaryKey: true},
					{Name: "product_name", Type: TypeText},
					{Name: "department", Type: TypeText, Enum: RecordDepts},
					{Name: "product_type", Type: TypeText, Enum: ProductTypes, Comment: "traffic-driver, profit-driver, premium"},
					{Name: "standard_price", Type: TypeDouble},
				},
			},
			{
				Name:    "consumption_records",
				Comment: "purchase events",
				Columns: []Column{
					{Name: "record_id", Type: TypeInteger, PrimaryKey: true},
					{Name: "customer_id", Type: TypeInteger, References: "customers.customer_id"},
					{Name: "consume_date", Type: TypeDate},
					{Name: "amount", Type: TypeDouble, Comment: "non-negative purchase amount"},
					{Name: "department", Type: TypeText, Enum: RecordDepts},
					{Name: "is_new_customer", Type: TypeBoolean, Comment: "true on a customer's first purchase"},
					{Name: "consultant_id", Type: TypeInteger, References: "consultants.consultant_id"},
					{Name: "product_id", Type: TypeInteger, References: "medical_products.product_id"},
					{Name: "quantity", Type: TypeInteger},
					{Name: "payment_method", Type: TypeText, Enum: PaymentMethods},
					{Name: "related_campaign", Type: TypeText, Nullable: true, Comment: "marketing campaign tag"},
				},
			},
			{
				Name:    "write_off_records",
				Comment: "redemptions against a prior purchase",
				Columns: []Column{
					{Name: "write_off_id", Type: TypeInteger, PrimaryKey: true},
					{Name: "customer_id", Type: TypeInteger, References: "customers.customer_id"},
					{Name: "write_off_date", Type: TypeDate},
					{Name: "amount", Type: TypeDouble, Comment: "non-negative redeemed amount"},
					{Name: "department", Type: TypeText, Enum: RecordDepts},
					{Name: "product_id", Type: TypeInteger, References: "medical_products.product_id"},
					{Name: "quantity", Type: TypeInteger},
					{Name: "consultant_id", Type: TypeInteger, References: "consultants.consultant_id"},
					{Name: "consume_record_id", Type: TypeInteger, References: "consumption_records.record_id"},
					{Name: "write_off_type", Type: TypeText, Enum: WriteOffTypes, Comment: "normal, campaign, package"},
				},
			},
			{
				Name:    "unspent_balances",
				Comment: "prepaid balance per customer and product",
				Columns: []Column{
					{Name: "balance_id", Type: TypeInteger, PrimaryKey: true},
					{Name: "customer_id", Type: TypeInteger, References: "customers.customer_id"},
					{Name: "product_id", Type: TypeInteger, References: "medical_products.product_id"},
					{Name: "total_amount", Type: TypeDouble},
					{Name: "spent_amount", Type: TypeDouble},
					{Name: "last_write_off_date", Type: TypeDate, Nullable: true},
					{Name: "expiration_date", Type: TypeDate, Nullable: true},
					{Name: "remaining_amount", Derived: true, Expression: "(total_amount - spent_amount)"},
				},
			},
		},
		Relations: []Relation{
			{Parent: "consultants", Child: "customers", ChildColumn: "consultant_id"},
			{Parent: "customers", Child: "consumption_records", ChildColumn: "customer_id"},
			{Parent: "customers", Child: "write_off_records", ChildColumn: "customer_id"},
			{Parent: "customers", Child: "unspent_balances", ChildColumn: "customer_id"},
			{Parent: "medical_products", Child: "consumption_records", ChildColumn: "product_id"},
			{Parent: "medical_products", Child: "write_off_records", ChildColumn: "product_id"},
			{Parent: "medical_products", Child: "unspent_balances", ChildColumn: "product_id"},
			{Parent: "consultants", Child: "consumption_records", ChildColumn: "consultant_id"},
			{Parent: "consultants", Child: "write_off_records", ChildColumn: "consultant_id"},
			{Parent: "consumption_records", Child: "write_off_records", ChildColumn: "consume_record_id"},
		},
		Notes: []string{
			"customers has NO department column; department lives on consumption_records, write_off_records, medical_products and consultants.",
			"unspent_balances.remaining_amount is not stored; always compute (total_amount - spent_amount).",
			"Enum columns only hold the listed literal values; compare against them exactly.",
			tierOrderNote(),
			"Amounts are non-negative monetary values.",
		},
	}
}
