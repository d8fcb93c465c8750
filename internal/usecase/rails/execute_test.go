package rails

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"cacp/internal/domain/plan"
	"cacp/internal/infrastructure/persistence/sqlite/model"
	"cacp/internal/infrastructure/persistence/sqlite/repository"
	"cacp/internal/infrastructure/persistence/sqlite/uow"
	"cacp/internal/ports"
	"cacp/internal/tenant"
)

// Monday 12:00 UTC, mid afternoon in the default profile timezone, well
// outside quiet hours.
var testNow = time.Date(2026, time.September, 14, 12, 0, 0, 0, time.UTC)

type stubAdapter struct {
	err   error
	calls []ports.SendRequest
}

func (a *stubAdapter) Execute(_ context.Context, req ports.SendRequest) (ports.SendResult, error) {
	a.calls = append(a.calls, req)
	if a.err != nil {
		return ports.SendResult{}, a.err
	}
	return ports.SendResult{Provider: "stub", ProviderMessageID: "msg-" + req.IdempotencyKey}, nil
}

type fixture struct {
	service    *Service
	adapter    *stubAdapter
	events     *repository.EventStore
	proposals  *repository.ProposalRepository
	consents   *repository.ConsentRepository
	counters   *repository.CounterRepository
	dedup      *repository.DedupRepository
	executions *repository.ExecutionRepository
}

func setup(t *testing.T, now time.Time) fixture {
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
	if err := db.AutoMigrate(
		&model.Event{}, &model.Proposal{}, &model.Consent{},
		&model.MessageSend{}, &model.ActionDedup{}, &model.ExecutionRecord{},
	); err != nil {
		t.Fatalf("auto migrate: %v", err)
	}

	f := fixture{
		adapter:    &stubAdapter{},
		events:     repository.NewEventStore(db),
		proposals:  repository.NewProposalRepository(db),
		consents:   repository.NewConsentRepository(db),
		counters:   repository.NewCounterRepository(db),
		dedup:      repository.NewDedupRepository(db),
		executions: repository.NewExecutionRepository(db),
	}

	service, err := NewService(Deps{
		UoW:        uow.NewUnitOfWork(db),
		Events:     f.events,
		Proposals:  f.proposals,
		Consents:   f.consents,
		Counters:   f.counters,
		Dedup:      f.dedup,
		Executions: f.executions,
		Profiles:   tenant.NewStore(""),
		Adapter:    f.adapter,
		Now:        func() time.Time { return now },
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	f.service = service
	return f
}

func seedApproved(t *testing.T, f fixture, actionCount int) plan.Proposal {
	t.Helper()
	now := testNow.Format(time.RFC3339Nano)

	actions := make([]plan.Action, 0, actionCount)
	templates := []string{"confirm_reminder_v2", "urgency_short", "reschedule_offer"}
	types := []string{plan.ActionSendReminder, plan.ActionSendConfirmation, plan.ActionReschedule}
	for i := 0; i < actionCount; i++ {
		actions = append(actions, plan.Action{
			ActionType:  types[i%len(types)],
			Channel:     "whatsapp",
			Template:    templates[i%len(templates)],
			HoursBefore: 48 - 24*i,
		})
	}

	proposal := plan.Proposal{
		ProposalID:    "P1",
		AppointmentID: "APT-100",
		PatientID:     "PAT-001",
		ClinicID:      "CLINIC-1",
		RiskTier:      plan.TierHigh,
		RiskScore:     0.75,
		Actions:       actions,
		Reasons:       []string{},
		Signature:     "sig",
		Version:       plan.ContractVersion,
		Status:        plan.StatusApproved,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := f.proposals.Create(context.Background(), proposal); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return proposal
}

func grantConsent(t *testing.T, f fixture) {
	t.Helper()
	if err := f.consents.Grant(context.Background(), "PAT-001", "whatsapp",
		testNow.Add(-48*time.Hour).Format(time.RFC3339Nano)); err != nil {
		t.Fatalf("Grant() error = %v", err)
	}
}

func TestExecuteProposalHappyPath(t *testing.T) {
	f := setup(t, testNow)
	ctx := context.Background()
	seedApproved(t, f, 3)
	grantConsent(t, f)

	result, err := f.service.ExecuteProposal(ctx, "P1")
	if err != nil {
		t.Fatalf("ExecuteProposal() error = %v", err)
	}
	if result.Executed != 3 || result.Blocked != 0 || result.Failed != 0 {
		t.Fatalf("result = %+v, want 3 executed", result)
	}
	if len(f.adapter.calls) != 3 {
		t.Fatalf("adapter called %d times, want 3", len(f.adapter.calls))
	}

	stored, err := f.proposals.Get(ctx, "P1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stored.Status != plan.StatusExecuted {
		t.Fatalf("status = %s, want executed", stored.Status)
	}

	records, err := f.executions.ListByProposal(ctx, "P1")
	if err != nil {
		t.Fatalf("ListByProposal() error = %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("execution records = %d, want 3", len(records))
	}
	for _, record := range records {
		if record.Outcome != OutcomeExecuted {
			t.Fatalf("record outcome = %s, want executed", record.Outcome)
		}
		for _, rail := range []string{railConsent, railQuietHours, railRateLimit, railDedup} {
			if record.RailOutcomes[rail] != railAllow {
				t.Fatalf("rail %s = %s, want ALLOW", rail, record.RailOutcomes[rail])
			}
		}
	}

	events, _ := f.events.ListByAggregate(ctx, "P1")
	var passed, executed int
	for _, event := range events {
		switch event.EventType {
		case plan.EventActionGatesPassed:
			passed++
		case plan.EventActionExecuted:
			executed++
		}
	}
	if passed != 3 || executed != 3 {
		t.Fatalf("gate events = %d, executed events = %d, want 3 and 3", passed, executed)
	}
	if events[len(events)-1].EventType != plan.EventProposalExecuted {
		t.Fatalf("last event = %s, want proposal_executed", events[len(events)-1].EventType)
	}
}

func TestExecuteProposalBlocksWithoutConsent(t *testing.T) {
	f := setup(t, testNow)
	ctx := context.Background()
	seedApproved(t, f, 2)
	// No consent granted for any channel.

	result, err := f.service.ExecuteProposal(ctx, "P1")
	if err != nil {
		t.Fatalf("ExecuteProposal() error = %v", err)
	}
	if result.Blocked != 2 || result.Executed != 0 {
		t.Fatalf("result = %+v, want 2 blocked", result)
	}
	if len(f.adapter.calls) != 0 {
		t.Fatal("adapter was called without consent")
	}
	for _, outcome := range result.Outcomes {
		if outcome.Reason != plan.ReasonNoConsent {
			t.Fatalf("reason = %s, want NO_CONSENT", outcome.Reason)
		}
		if outcome.Rails[railConsent] != railBlock {
			t.Fatalf("consent rail = %s, want BLOCK", outcome.Rails[railConsent])
		}
		// Later gates never ran.
		if _, evaluated := outcome.Rails[railRateLimit]; evaluated {
			t.Fatal("rate limit gate ran after a consent block")
		}
	}

	stored, _ := f.proposals.Get(ctx, "P1")
	if stored.Status != plan.StatusExecuted {
		t.Fatalf("status = %s, want executed after an all-blocked run", stored.Status)
	}
}

func TestExecuteProposalBlocksInQuietHours(t *testing.T) {
	// 21:00 UTC is 23:00 in Europe/Madrid, inside the default 22 to 8
	// quiet window.
	f := setup(t, time.Date(2026, time.September, 14, 21, 0, 0, 0, time.UTC))
	ctx := context.Background()
	seedApproved(t, f, 1)
	grantConsent(t, f)

	result, err := f.service.ExecuteProposal(ctx, "P1")
	if err != nil {
		t.Fatalf("ExecuteProposal() error = %v", err)
	}
	if result.Blocked != 1 || result.Outcomes[0].Reason != plan.ReasonQuietHours {
		t.Fatalf("result = %+v, want quiet-hours block", result)
	}
	if len(f.adapter.calls) != 0 {
		t.Fatal("adapter was called in quiet hours")
	}
}

func TestExecuteProposalEnforcesRateLimit(t *testing.T) {
	f := setup(t, testNow)
	ctx := context.Background()
	seedApproved(t, f, 3)
	grantConsent(t, f)

	// Two of the default three daily sends are already used.
	since := testNow.Add(-24 * time.Hour).Format(time.RFC3339Nano)
	at := testNow.Add(-time.Hour).Format(time.RFC3339Nano)
	for i := 0; i < 2; i++ {
		if ok, err := f.counters.ReserveSend(ctx, "PAT-001", "whatsapp", 3, since, at); err != nil || !ok {
			t.Fatalf("ReserveSend(#%d) = %v, err %v", i, ok, err)
		}
	}

	result, err := f.service.ExecuteProposal(ctx, "P1")
	if err != nil {
		t.Fatalf("ExecuteProposal() error = %v", err)
	}
	if result.Executed != 1 || result.Blocked != 2 {
		t.Fatalf("result = %+v, want 1 executed and 2 rate-limited", result)
	}
	for _, outcome := range result.Outcomes[1:] {
		if outcome.Reason != plan.ReasonRateLimitExceeded {
			t.Fatalf("reason = %s, want RATE_LIMIT_EXCEEDED", outcome.Reason)
		}
	}
}

func TestExecuteProposalSkipsReservedAction(t *testing.T) {
	f := setup(t, testNow)
	ctx := context.Background()
	seedApproved(t, f, 2)
	grantConsent(t, f)

	// Action 0 was already reserved by an earlier crashed run.
	if ok, err := f.dedup.ReserveAction(ctx, "P1", 0, testNow.Format(time.RFC3339Nano)); err != nil || !ok {
		t.Fatalf("ReserveAction() = %v, err %v", ok, err)
	}

	result, err := f.service.ExecuteProposal(ctx, "P1")
	if err != nil {
		t.Fatalf("ExecuteProposal() error = %v", err)
	}
	if result.Executed != 1 || result.Blocked != 1 {
		t.Fatalf("result = %+v, want 1 executed and 1 duplicate", result)
	}
	if result.Outcomes[0].Reason != plan.ReasonDuplicateAction {
		t.Fatalf("reason = %s, want DUPLICATE_ACTION", result.Outcomes[0].Reason)
	}
	if len(f.adapter.calls) != 1 || f.adapter.calls[0].IdempotencyKey != "P1:1" {
		t.Fatalf("adapter calls = %+v, want only action 1", f.adapter.calls)
	}
}

func TestExecuteProposalRecordsAdapterErrorWithoutRetry(t *testing.T) {
	f := setup(t, testNow)
	ctx := context.Background()
	seedApproved(t, f, 1)
	grantConsent(t, f)
	f.adapter.err = errors.New("provider 500")

	result, err := f.service.ExecuteProposal(ctx, "P1")
	if err != nil {
		t.Fatalf("ExecuteProposal() error = %v", err)
	}
	if result.Failed != 1 || result.Outcomes[0].Reason != plan.ReasonAdapterError {
		t.Fatalf("result = %+v, want one adapter error", result)
	}
	if len(f.adapter.calls) != 1 {
		t.Fatalf("adapter called %d times, want exactly 1", len(f.adapter.calls))
	}

	records, _ := f.executions.ListByProposal(ctx, "P1")
	if len(records) != 1 || records[0].Outcome != OutcomeAdapterError {
		t.Fatalf("records = %+v, want one adapter_error", records)
	}
}

type failingConsents struct{}

func (failingConsents) HasConsent(context.Context, string, string) (bool, error) {
	return false, errors.New("disk I/O error")
}

func (failingConsents) Grant(context.Context, string, string, string) error {
	return errors.New("disk I/O error")
}

func (failingConsents) Revoke(context.Context, string, string, string) error {
	return errors.New("disk I/O error")
}

func TestExecuteProposalMarksGateFaultAsInternalError(t *testing.T) {
	f := setup(t, testNow)
	ctx := context.Background()
	seedApproved(t, f, 1)

	// Swap in a consent store whose reads fail so the gate transaction
	// itself errors before any delivery is attempted.
	service, err := NewService(Deps{
		UoW:        f.service.uow,
		Events:     f.events,
		Proposals:  f.proposals,
		Consents:   failingConsents{},
		Counters:   f.counters,
		Dedup:      f.dedup,
		Executions: f.executions,
		Profiles:   tenant.NewStore(""),
		Adapter:    f.adapter,
		Now:        func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}

	result, err := service.ExecuteProposal(ctx, "P1")
	if err != nil {
		t.Fatalf("ExecuteProposal() error = %v", err)
	}
	if result.Failed != 1 || result.Executed != 0 || result.Blocked != 0 {
		t.Fatalf("result = %+v, want 1 failed", result)
	}
	if result.Outcomes[0].Outcome != OutcomeInternalErr {
		t.Fatalf("outcome = %s, want internal_error", result.Outcomes[0].Outcome)
	}
	if result.Outcomes[0].Reason != plan.ReasonInternalError {
		t.Fatalf("reason = %s, want INTERNAL_ERROR", result.Outcomes[0].Reason)
	}
	if len(f.adapter.calls) != 0 {
		t.Fatal("adapter was called despite the gate fault")
	}
}

func TestExecuteProposalRequiresApprovedStatus(t *testing.T) {
	f := setup(t, testNow)
	ctx := context.Background()

	proposal := seedApproved(t, f, 1)
	nowStr := testNow.Format(time.RFC3339Nano)
	if err := f.proposals.Transition(ctx, proposal.ProposalID, plan.StatusApproved, plan.StatusExecuted, nowStr); err != nil {
		t.Fatalf("Transition() error = %v", err)
	}

	if _, err := f.service.ExecuteProposal(ctx, "P1"); !errors.Is(err, plan.ErrInvalidTransition) {
		t.Fatalf("ExecuteProposal() error = %v, want ErrInvalidTransition", err)
	}

	if _, err := f.service.ExecuteProposal(ctx, "P-missing"); !errors.Is(err, plan.ErrProposalNotFound) {
		t.Fatalf("ExecuteProposal() error = %v, want ErrProposalNotFound", err)
	}
}
