package data_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/technosupport/ts-telematics/internal/data"
	"github.com/technosupport/ts-telematics/internal/notify"
)

func notificationRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "vehicle_id", "rule_id", "channel", "recipient", "subject",
		"message", "status", "attempts", "max_attempts", "created_at", "sent_at", "metadata",
	})
}

func TestNotificationSave(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := data.NotificationModel{DB: db}

	mock.ExpectExec("INSERT INTO notifications").WillReturnResult(sqlmock.NewResult(1, 1))

	n := &notify.Notification{
		ID:          "n1",
		VehicleID:   "veh-1",
		RuleID:      "rule-1",
		Channel:     notify.ChannelEmail,
		Recipient:   "ops@example.com",
		Message:     "speed limit exceeded",
		Status:      notify.StatusPending,
		MaxAttempts: 3,
		CreatedAt:   time.Now().UTC(),
	}
	if err := m.Save(context.Background(), n); err != nil {
		t.Errorf("Save failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestNotificationUpdateStatus_GuardsTerminalStates(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := data.NotificationModel{DB: db}

	// A row already in a terminal state matches zero rows.
	mock.ExpectExec("UPDATE notifications").
		WithArgs("retry", nil, "n1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := m.UpdateStatus(context.Background(), "n1", notify.StatusRetry, nil)
	if !errors.Is(err, data.ErrRecordNotFound) {
		t.Errorf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestNotificationUpdateStatus_Sent(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := data.NotificationModel{DB: db}

	now := time.Now().UTC()
	mock.ExpectExec("UPDATE notifications").
		WithArgs("sent", &now, "n1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := m.UpdateStatus(context.Background(), "n1", notify.StatusSent, &now); err != nil {
		t.Errorf("UpdateStatus failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestNotificationIncrementAttempts(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := data.NotificationModel{DB: db}

	rows := notificationRows().AddRow(
		"n1", "veh-1", "rule-1", "email", "ops@example.com", "subj",
		"msg", "retry", 2, 3, time.Now(), nil, []byte("{}"),
	)
	mock.ExpectQuery("UPDATE notifications").WithArgs("n1").WillReturnRows(rows)

	n, err := m.IncrementAttempts(context.Background(), "n1")
	if err != nil {
		t.Fatalf("IncrementAttempts failed: %v", err)
	}
	if n.Attempts != 2 {
		t.Errorf("attempts = %d, want 2", n.Attempts)
	}
	if n.Status != notify.StatusRetry {
		t.Errorf("status = %s, want retry", n.Status)
	}
}

func TestNotificationIncrementAttempts_Missing(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := data.NotificationModel{DB: db}

	mock.ExpectQuery("UPDATE notifications").WithArgs("n1").WillReturnError(sql.ErrNoRows)

	_, err := m.IncrementAttempts(context.Background(), "n1")
	if !errors.Is(err, data.ErrRecordNotFound) {
		t.Errorf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestNotificationFindByStatus(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := data.NotificationModel{DB: db}

	sentAt := time.Now().UTC()
	rows := notificationRows().
		AddRow("n1", "veh-1", "rule-1", "email", "a@example.com", nil, "m1", "retry", 1, 3, time.Now(), nil, []byte(`{"k":"v"}`)).
		AddRow("n2", "veh-2", "rule-2", "sms", "+4915112345678", nil, "m2", "retry", 2, 3, time.Now(), sentAt, nil)

	mock.ExpectQuery("SELECT (.+) FROM notifications").WithArgs("retry").WillReturnRows(rows)

	result, err := m.FindByStatus(context.Background(), notify.StatusRetry)
	if err != nil {
		t.Fatalf("FindByStatus failed: %v", err)
	}
	if len(result) != 2 {
		t.Fatalf("got %d notifications, want 2", len(result))
	}
	if result[0].Metadata["k"] != "v" {
		t.Error("metadata not decoded")
	}
	if result[1].SentAt == nil {
		t.Error("sent_at not scanned")
	}
}
