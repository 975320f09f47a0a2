package schema

import (
	"strings"
	"testing"
)

func TestDescribeIsDeterministic(t *testing.T) {
	first := Clinic().Describe()
	second := Clinic().Describe()
	if first != second {
		t.Fatal("Describe() output differs between calls")
	}
}

func TestDescribeListsEveryTableAndColumn(t *testing.T) {
	s := Clinic()
	text := s.Describe()
	for _, table := range s.Tables {
		if !strings.Contains(text, "Table: "+table.Name) {
			t.Fatalf("description missing table %q", table.Name)
		}
		for _, column := range table.Columns {
			if !strings.Contains(text, column.Name) {
				t.Fatalf("description missing column %s.%s", table.Name, column.Name)
			}
		}
	}
	if !strings.Contains(text, "'"+TierDiamond+"'") {
		t.Fatal("description should quote enum labels")
	}
}

func TestDescribeMarksDerivedColumn(t *testing.T) {
	text := Clinic().Describe()
	if !strings.Contains(text, "remaining_amount: DERIVED") {
		t.Fatalf("remaining_amount not flagged as derived:\n%s", text)
	}
	if !strings.Contains(text, "customers has NO department column") {
		t.Fatal("missing department disambiguation note")
	}
}

func TestStoredColumnsExcludeDerived(t *testing.T) {
	table, ok := Clinic().Table("unspent_balances")
	if !ok {
		t.Fatal("unspent_balances not found")
	}
	for _, column := range table.StoredColumns() {
		if column.Name == "remaining_amount" {
			t.Fatal("remaining_amount must not be a stored column")
		}
	}
	if len(table.StoredColumns()) != len(table.Columns)-1 {
		t.Fatalf("stored columns = %d", len(table.StoredColumns()))
	}
}

func TestRelationsReferenceKnownTables(t *testing.T) {
	s := Clinic()
	for _, rel := range s.Relations {
		parent, ok := s.Table(rel.Parent)
		if !ok {
			t.Fatalf("unknown parent %q", rel.Parent)
		}
		child, ok := s.Table(rel.Child)
		if !ok {
			t.Fatalf("unknown child %q", rel.Child)
		}
		column, ok := child.Column(rel.ChildColumn)
		if !ok {
			t.Fatalf("unknown column %s.%s", rel.Child, rel.ChildColumn)
		}
		if !strings.HasPrefix(column.References, parent.Name+".") {
			t.Fatalf("%s.%s references %q, want %s", rel.Child, rel.ChildColumn, column.References, parent.Name)
		}
	}
}

func TestTierRankOrdersMembership(t *testing.T) {
	if TierRank(TierBase) >= TierRank(TierSilver) ||
		TierRank(TierSilver) >= TierRank(TierGold) ||
		TierRank(TierGold) >= TierRank(TierDiamond) {
		t.Fatal("membership tiers out of order")
	}
	if TierRank("platinum") != -1 {
		t.Fatal("unknown tier should rank -1")
	}
}

func TestTierOrderSQL(t *testing.T) {
	got := TierOrderSQL("c.membership_level")
	want := "CASE c.membership_level WHEN '普通' THEN 0 WHEN '白银' THEN 1 WHEN '黄金' THEN 2 WHEN '钻石' THEN 3 END"
	if got != want {
		t.Fatalf("TierOrderSQL() = %q, want %q", got, want)
	}
	if !strings.Contains(Clinic().Describe(), TierOrderSQL("membership_level")) {
		t.Fatal("Describe() should explain tier ordering")
	}
}
