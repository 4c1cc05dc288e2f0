package data_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/technosupport/ts-telematics/internal/data"
	"github.com/technosupport/ts-telematics/internal/telemetry"
)

func TestSignalSave(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := data.SignalModel{DB: db}

	mock.ExpectExec("INSERT INTO telemetry_signals").WillReturnResult(sqlmock.NewResult(1, 1))

	lat, lon := 52.52, 13.405
	s := &telemetry.Signal{
		ID:        "s1",
		VehicleID: "veh-1",
		Kind:      telemetry.KindPosition,
		Value:     map[string]any{"speed": 63.0},
		Timestamp: time.Now().UTC(),
		Latitude:  &lat,
		Longitude: &lon,
		Metadata:  map[string]any{"source": "obd"},
	}
	if err := m.Save(context.Background(), s); err != nil {
		t.Errorf("Save failed: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSignalFindByVehicleID(t *testing.T) {
	db, mock, _ := sqlmock.New()
	defer db.Close()
	m := data.SignalModel{DB: db}

	rows := sqlmock.NewRows([]string{"id", "vehicle_id", "kind", "value", "ts", "latitude", "longitude", "metadata"}).
		AddRow("s2", "veh-1", "speed", []byte(`{"speed":80}`), time.Now(), nil, nil, []byte("{}")).
		AddRow("s1", "veh-1", "position", []byte("null"), time.Now().Add(-time.Minute), 52.52, 13.405, nil)

	mock.ExpectQuery("SELECT (.+) FROM telemetry_signals").
		WithArgs("veh-1", 100).
		WillReturnRows(rows)

	signals, err := m.FindByVehicleID(context.Background(), "veh-1", 100)
	if err != nil {
		t.Fatalf("FindByVehicleID failed: %v", err)
	}
	if len(signals) != 2 {
		t.Fatalf("got %d signals, want 2", len(signals))
	}
	if signals[0].Kind != telemetry.KindSpeed {
		t.Errorf("kind = %s, want speed", signals[0].Kind)
	}
	v, ok := signals[0].Value.(map[string]any)
	if !ok || v["speed"] != float64(80) {
		t.Error("value not decoded")
	}
	if signals[1].Latitude == nil || *signals[1].Latitude != 52.52 {
		t.Error("latitude not scanned")
	}
}
