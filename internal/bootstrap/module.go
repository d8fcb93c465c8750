package bootstrap

import (
	"context"
	"log/slog"

	"github.com/nats-io/nats.go"
	"go.uber.org/fx"
	"gorm.io/gorm"

	"cacp/internal/bootstrap/config"
	"cacp/internal/bootstrap/database"
	"cacp/internal/bootstrap/logging"
	"cacp/internal/infrastructure/adapters"
	"cacp/internal/infrastructure/gitops"
	sqliterepo "cacp/internal/infrastructure/persistence/sqlite/repository"
	sqliteuow "cacp/internal/infrastructure/persistence/sqlite/uow"
	policyinfra "cacp/internal/infrastructure/policy"
	"cacp/internal/infrastructure/queue"
	"cacp/internal/policy"
	"cacp/internal/ports"
	"cacp/internal/tenant"
	"cacp/internal/usecase/approval"
	"cacp/internal/usecase/orchestrator"
	"cacp/internal/usecase/outcomes"
	"cacp/internal/usecase/rails"
)

var Module = fx.Options(
	fx.Provide(provideConfig),
	fx.Provide(provideDatabase),
	fx.Provide(provideApp),
	fx.Provide(
		fx.Annotate(sqliterepo.NewEventStore, fx.As(new(ports.EventStore))),
		fx.Annotate(sqliterepo.NewProposalRepository, fx.As(new(ports.ProposalRepository))),
		fx.Annotate(sqliterepo.NewConsentRepository, fx.As(new(ports.ConsentStore))),
		fx.Annotate(sqliterepo.NewCounterRepository, fx.As(new(ports.SendCounterStore))),
		fx.Annotate(sqliterepo.NewDedupRepository, fx.As(new(ports.DedupStore)), fx.As(new(ports.DeliveryStore))),
		fx.Annotate(sqliterepo.NewExecutionRepository, fx.As(new(ports.ExecutionStore))),
		fx.Annotate(sqliteuow.NewUnitOfWork, fx.As(new(ports.UnitOfWork))),
	),
	fx.Provide(
		provideProfiles,
		provideEvaluator,
		provideSubmitter,
		provideAdapter,
		provideNATS,
		provideDispatcher,
		provideOrchestrator,
		provideApproval,
		provideRails,
		provideOutcomes,
	),
)

type configParams struct {
	fx.In

	Ctx        context.Context
	ConfigFile string `name:"configFile"`
}

func provideConfig(p configParams) (config.Config, error) {
	ctx := logging.WithAttrs(p.Ctx, slog.String("component", "bootstrap.fx"))
	return config.Load(ctx, p.ConfigFile)
}

func provideDatabase(lc fx.Lifecycle, ctx context.Context, cfg config.Config) (*gorm.DB, error) {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.fx"))

	db, err := database.Open(logCtx, cfg.Database)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})

	return db, nil
}

func provideApp(cfg config.Config, db *gorm.DB) *App {
	return &App{
		Config: cfg,
		DB:     db,
	}
}

func provideProfiles(cfg config.Config) *tenant.Store {
	return tenant.NewStore(cfg.Tenant.ProfilesDir)
}

func provideEvaluator(cfg config.Config) policy.Evaluator {
	return policyinfra.NewOPAClient(cfg.Policy.URL, cfg.Policy.Timeout)
}

// provideSubmitter returns a nil submitter when no approval repository is
// configured; signed proposals then wait for manual resubmission.
func provideSubmitter(ctx context.Context, cfg config.Config) (ports.Submitter, error) {
	if cfg.GitOps.Owner == "" || cfg.GitOps.Repo == "" {
		logging.Warn(ctx, "gitops repository not configured, submissions disabled")
		return nil, nil
	}
	return gitops.NewSubmitter(gitops.SubmitterConfig{
		Owner:       cfg.GitOps.Owner,
		Repo:        cfg.GitOps.Repo,
		BaseBranch:  cfg.GitOps.BaseBranch,
		Environment: cfg.App.Env,
		Token:       cfg.GitOps.Token,
	})
}

func provideAdapter(ctx context.Context, cfg config.Config) (ports.ActionAdapter, error) {
	if cfg.Twilio.AccountSID == "" {
		logging.Info(ctx, "no messaging provider configured, using log adapter")
		return adapters.NewLogAdapter(), nil
	}
	return adapters.NewTwilioAdapter(adapters.TwilioConfig{
		AccountSID: cfg.Twilio.AccountSID,
		AuthToken:  cfg.Twilio.AuthToken,
		FromNumber: cfg.Twilio.FromNumber,
	})
}

// provideNATS connects only when a broker URL is configured; a nil
// connection selects the in-process dispatcher.
func provideNATS(lc fx.Lifecycle, ctx context.Context, cfg config.Config) (*nats.Conn, error) {
	if cfg.Queue.URL == "" {
		return nil, nil
	}

	conn, err := nats.Connect(cfg.Queue.URL, nats.Name(cfg.App.Name))
	if err != nil {
		return nil, err
	}
	logging.Info(ctx, "connected to queue", slog.String("url", cfg.Queue.URL))

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			conn.Close()
			return nil
		},
	})
	return conn, nil
}

// railsExecutor adapts the rail engine to the queue executor contract.
type railsExecutor struct {
	rails *rails.Service
}

func (e railsExecutor) Execute(ctx context.Context, proposalID string) error {
	_, err := e.rails.ExecuteProposal(ctx, proposalID)
	return err
}

func provideDispatcher(cfg config.Config, conn *nats.Conn, railsService *rails.Service) (ports.PlanDispatcher, error) {
	if conn != nil {
		return queue.NewNATSDispatcher(conn, cfg.Queue.Subject)
	}
	return queue.NewInProcessDispatcher(railsExecutor{rails: railsService})
}

// NewConsumer builds the worker-side queue consumer. Separate from the fx
// graph because only the worker command runs it.
func NewConsumer(cfg config.Config, conn *nats.Conn, railsService *rails.Service) (*queue.Consumer, error) {
	return queue.NewConsumer(conn, cfg.Queue.Subject, queue.DefaultQueue, railsExecutor{rails: railsService})
}

func provideOrchestrator(
	cfg config.Config,
	uow ports.UnitOfWork,
	events ports.EventStore,
	proposals ports.ProposalRepository,
	counters ports.SendCounterStore,
	consents ports.ConsentStore,
	profiles *tenant.Store,
	evaluator policy.Evaluator,
	submitter ports.Submitter,
) (*orchestrator.Service, error) {
	return orchestrator.NewService(orchestrator.Deps{
		UoW:       uow,
		Events:    events,
		Proposals: proposals,
		Counters:  counters,
		Consents:  consents,
		Profiles:  profiles,
		Evaluator: evaluator,
		Submitter: submitter,
	}, cfg.Signing.PlanKey, cfg.App.Env)
}

func provideApproval(
	cfg config.Config,
	uow ports.UnitOfWork,
	events ports.EventStore,
	proposals ports.ProposalRepository,
	deliveries ports.DeliveryStore,
	dispatcher ports.PlanDispatcher,
) (*approval.Service, error) {
	return approval.NewService(approval.Deps{
		UoW:        uow,
		Events:     events,
		Proposals:  proposals,
		Deliveries: deliveries,
		Dispatcher: dispatcher,
	}, cfg.Signing.WebhookSecret)
}

func provideRails(
	uow ports.UnitOfWork,
	events ports.EventStore,
	proposals ports.ProposalRepository,
	consents ports.ConsentStore,
	counters ports.SendCounterStore,
	dedup ports.DedupStore,
	executions ports.ExecutionStore,
	profiles *tenant.Store,
	adapter ports.ActionAdapter,
) (*rails.Service, error) {
	return rails.NewService(rails.Deps{
		UoW:        uow,
		Events:     events,
		Proposals:  proposals,
		Consents:   consents,
		Counters:   counters,
		Dedup:      dedup,
		Executions: executions,
		Profiles:   profiles,
		Adapter:    adapter,
	})
}

func provideOutcomes(uow ports.UnitOfWork, events ports.EventStore) (*outcomes.Service, error) {
	return outcomes.NewService(uow, events)
}
