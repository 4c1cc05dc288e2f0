package data_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/technosupport/ts-telematics/internal/data"
	"github.com/technosupport/ts-telematics/internal/rules"
	"github.com/technosupport/ts-telematics/internal/telemetry"
)

func ruleRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "vehicle_id", "signal_kind", "operator", "threshold",
		"action", "priority", "enabled", "metadata", "created_at", "updated_at",
	})
}

func TestRuleFindByVehicleID(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := data.RuleModel{DB: db}

	now := time.Now()
	rows := ruleRows().
		AddRow("r1", "veh-1", "panic_button", "equals", []byte("true"), "call_emergency", 10, true, []byte(`{"name":"panic"}`), now, now).
		AddRow("r2", "veh-1", "speed", "greater_than", []byte("100"), "send_email", 5, true, nil, now, now)

	mock.ExpectQuery("SELECT (.+) FROM rules").WithArgs("veh-1").WillReturnRows(rows)

	result, err := m.FindByVehicleID(context.Background(), "veh-1")
	if err != nil {
		t.Fatalf("FindByVehicleID failed: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("got %d rules, want 2", len(result))
	}
	if result[0].Priority != 10 || result[0].Action != rules.ActionCallEmergency {
		t.Errorf("first rule not decoded: %+v", result[0])
	}
	if result[1].Threshold != float64(100) {
		t.Errorf("threshold = %v, want 100", result[1].Threshold)
	}
	if result[0].Name() != "panic" {
		t.Errorf("name = %s, want panic", result[0].Name())
	}
}

func TestRuleGetByID_Missing(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := data.RuleModel{DB: db}

	mock.ExpectQuery("SELECT (.+) FROM rules").WithArgs("missing").WillReturnRows(ruleRows())

	_, err := m.GetByID(context.Background(), "missing")
	if !errors.Is(err, data.ErrRecordNotFound) {
		t.Errorf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestRuleSave(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := data.RuleModel{DB: db}

	mock.ExpectExec("INSERT INTO rules").WillReturnResult(sqlmock.NewResult(1, 1))

	r := &rules.Rule{
		ID:         "r1",
		VehicleID:  "veh-1",
		SignalKind: telemetry.KindSpeed,
		Operator:   rules.OpGreaterThan,
		Threshold:  float64(100),
		Action:     rules.ActionSendEmail,
		Priority:   5,
		Enabled:    true,
	}
	if err := m.Save(context.Background(), r); err != nil {
		t.Errorf("Save failed: %v", err)
	}
	if r.CreatedAt.IsZero() || r.UpdatedAt.IsZero() {
		t.Error("timestamps not set on save")
	}
}

func TestRuleUpdate_Missing(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := data.RuleModel{DB: db}

	mock.ExpectExec("UPDATE rules").WillReturnResult(sqlmock.NewResult(0, 0))

	r := &rules.Rule{ID: "missing", VehicleID: "veh-1", SignalKind: telemetry.KindSpeed}
	err := m.Update(context.Background(), r)
	if !errors.Is(err, data.ErrRecordNotFound) {
		t.Errorf("expected ErrRecordNotFound, got %v", err)
	}
}
