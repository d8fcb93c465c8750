package outcomes

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"cacp/internal/domain/plan"
	"cacp/internal/infrastructure/persistence/sqlite/model"
	"cacp/internal/infrastructure/persistence/sqlite/repository"
	"cacp/internal/infrastructure/persistence/sqlite/uow"
	"cacp/internal/ports"
)

func setup(t *testing.T) (*Service, *repository.EventStore) {
	t.Helper()

	db, err := gorm.Open(gormsqlite.Open(filepath.Join(t.TempDir(), "cacp.sqlite")), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("get sql db: %v", err)
	}
	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	if err := db.AutoMigrate(&model.Event{}); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	events := repository.NewEventStore(db)
	service, err := NewService(uow.NewUnitOfWork(db), events)
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return service, events
}

func TestRecordNoShowIsIdempotent(t *testing.T) {
	service, events := setup(t)
	ctx := context.Background()

	if err := service.RecordNoShow(ctx, "APT-100", "CLINIC-1"); err != nil {
		t.Fatalf("RecordNoShow() error = %v", err)
	}
	if err := service.RecordNoShow(ctx, "APT-100", "CLINIC-1"); err != nil {
		t.Fatalf("RecordNoShow() again error = %v", err)
	}

	recorded, err := events.ListByType(ctx, plan.EventNoShowRecorded, 0)
	if err != nil {
		t.Fatalf("ListByType() error = %v", err)
	}
	if len(recorded) != 1 {
		t.Fatalf("no_show_recorded events = %d, want 1", len(recorded))
	}
}

func TestRecordConfirmationDedupsByProviderRef(t *testing.T) {
	service, events := setup(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := service.RecordConfirmation(ctx, "APT-100", "sms", "SM123"); err != nil {
			t.Fatalf("RecordConfirmation(#%d) error = %v", i, err)
		}
	}
	confirmed, _ := events.ListByType(ctx, plan.EventAppointmentConfirmed, 0)
	if len(confirmed) != 1 {
		t.Fatalf("confirmed events = %d, want 1", len(confirmed))
	}

	// Without a provider reference there is nothing to dedup on.
	if err := service.RecordConfirmation(ctx, "APT-101", "sms", ""); err != nil {
		t.Fatalf("RecordConfirmation() error = %v", err)
	}
	if err := service.RecordConfirmation(ctx, "APT-101", "sms", ""); err != nil {
		t.Fatalf("RecordConfirmation() error = %v", err)
	}
	confirmed, _ = events.ListByType(ctx, plan.EventAppointmentConfirmed, 0)
	if len(confirmed) != 3 {
		t.Fatalf("confirmed events = %d, want 3", len(confirmed))
	}
}

func TestRecordRequiresAppointmentID(t *testing.T) {
	service, _ := setup(t)

	if err := service.RecordNoShow(context.Background(), " ", "CLINIC-1"); !errors.Is(err, plan.ErrInvalidRequest) {
		t.Fatalf("RecordNoShow() error = %v, want ErrInvalidRequest", err)
	}
}

func TestRecordDeliveryStatus(t *testing.T) {
	service, events := setup(t)
	ctx := context.Background()

	tracked, err := service.RecordDeliveryStatus(ctx, "APT-100", "Delivered", "SM900")
	if err != nil || !tracked {
		t.Fatalf("RecordDeliveryStatus() = (%v, %v), want (true, nil)", tracked, err)
	}
	// Provider retries of the same status are absorbed.
	if tracked, err = service.RecordDeliveryStatus(ctx, "APT-100", "delivered", "SM900"); err != nil || !tracked {
		t.Fatalf("RecordDeliveryStatus() retry = (%v, %v)", tracked, err)
	}
	delivered, _ := events.ListByType(ctx, "sms_delivered", 0)
	if len(delivered) != 1 {
		t.Fatalf("sms_delivered events = %d, want 1", len(delivered))
	}

	// Untracked statuses are acknowledged without writing anything.
	if tracked, err = service.RecordDeliveryStatus(ctx, "APT-100", "read", "SM900"); err != nil || tracked {
		t.Fatalf("RecordDeliveryStatus(read) = (%v, %v), want (false, nil)", tracked, err)
	}

	if _, err = service.RecordDeliveryStatus(ctx, "APT-100", "failed", ""); !errors.Is(err, plan.ErrInvalidRequest) {
		t.Fatalf("RecordDeliveryStatus() without sid error = %v, want ErrInvalidRequest", err)
	}

	// A status callback without appointment context still lands, keyed by
	// the message sid.
	if tracked, err = service.RecordDeliveryStatus(ctx, "", "failed", "SM901"); err != nil || !tracked {
		t.Fatalf("RecordDeliveryStatus() without appointment = (%v, %v)", tracked, err)
	}
	failed, _ := events.ListByType(ctx, "sms_failed", 0)
	if len(failed) != 1 || failed[0].AggregateID != "SM901" {
		t.Fatalf("sms_failed events = %+v", failed)
	}
}

func TestNoShowStatsFoldsEventLog(t *testing.T) {
	service, events := setup(t)
	ctx := context.Background()

	for _, appointmentID := range []string{"APT-1", "APT-2", "APT-3", "APT-4"} {
		if _, _, err := events.Append(ctx, ports.EventAppend{
			EventType:   plan.EventAppointmentIngested,
			AggregateID: appointmentID,
			Payload:     map[string]any{"appointment_id": appointmentID},
		}); err != nil {
			t.Fatalf("Append() error = %v", err)
		}
	}
	if err := service.RecordConfirmation(ctx, "APT-1", "whatsapp", "SM1"); err != nil {
		t.Fatalf("RecordConfirmation() error = %v", err)
	}
	if err := service.RecordConfirmation(ctx, "APT-2", "sms", "SM2"); err != nil {
		t.Fatalf("RecordConfirmation() error = %v", err)
	}
	if err := service.RecordNoShow(ctx, "APT-3", "CLINIC-1"); err != nil {
		t.Fatalf("RecordNoShow() error = %v", err)
	}

	stats, err := service.NoShowStats(ctx)
	if err != nil {
		t.Fatalf("NoShowStats() error = %v", err)
	}
	if stats.AppointmentsIngested != 4 || stats.Confirmed != 2 || stats.NoShows != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats.NoShowRate != 0.25 || stats.ConfirmationRate != 0.5 {
		t.Fatalf("rates = %v / %v, want 0.25 / 0.5", stats.NoShowRate, stats.ConfirmationRate)
	}
}

func TestNoShowStatsEmptyLog(t *testing.T) {
	service, _ := setup(t)

	stats, err := service.NoShowStats(context.Background())
	if err != nil {
		t.Fatalf("NoShowStats() error = %v", err)
	}
	if stats != (Stats{}) {
		t.Fatalf("stats = %+v, want zero value", stats)
	}
}
