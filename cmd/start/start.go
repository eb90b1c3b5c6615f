package start

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"runtime/pprof"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/visionml/trainer/api"
	"github.com/visionml/trainer/internal/execution"
	"github.com/visionml/trainer/internal/gateway"
	"github.com/visionml/trainer/internal/logchan"
	"github.com/visionml/trainer/internal/metrics"
	"github.com/visionml/trainer/internal/persister"
	"github.com/visionml/trainer/internal/store"
	"github.com/visionml/trainer/internal/submit"
	"github.com/visionml/trainer/internal/worker"
	"github.com/visionml/trainer/pkg/db"
	"github.com/visionml/trainer/pkg/env"
	"github.com/visionml/trainer/pkg/log"
	"github.com/visionml/trainer/pkg/retry"
	"gorm.io/gorm"
)

const (
	usage   = "start"
	short   = "Start a trainer instance"
	long    = "This command starts the trainer roles enabled by TRAINER_ROLES (api, worker, persister)"
	example = "TRAINER_ROLES=worker trainer start"
)

var (
	// Cmd is the start command.
	Cmd = &cobra.Command{
		Use:        usage,
		Short:      short,
		Long:       long,
		Aliases:    []string{"s"},
		SuggestFor: []string{"launch", "boot", "up", "run", "begin"},
		Example:    example,
		RunE:       start,
	}
)

func start(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dumpOnSignal(ctx)

	vars := env.Variables()
	metrics.Register()

	gdb, err := retry.Connect(ctx, "database", vars.ConnectAttempts, vars.ConnectBackoff,
		func(context.Context) (*gorm.DB, error) {
			return db.Open(vars.DatabaseType, vars.DatabaseDSN)
		})
	if err != nil {
		return err
	}
	defer db.Close(gdb)

	log.Info("migrating database")
	if err := db.Migrate(gdb); err != nil {
		return err
	}

	b := newBrokers(vars)
	defer b.Close()

	r := &roles{ctx: ctx, errs: make(chan error, 4)}

	if vars.HasRole(env.RoleAPI) {
		if err := launchAPI(ctx, r, b, gdb, vars); err != nil {
			return err
		}
	}

	if vars.HasRole(env.RoleWorker) {
		if err := launchWorker(ctx, r, b, gdb, vars); err != nil {
			return err
		}
	}

	if vars.HasRole(env.RolePersister) {
		if err := launchPersister(ctx, r, b, gdb); err != nil {
			return err
		}
	}

	return r.wait(stop)
}

func launchAPI(ctx context.Context, r *roles, b *brokers, gdb *gorm.DB, vars env.Environment) error {
	q, err := b.Queue(ctx, env.RoleAPI)
	if err != nil {
		return err
	}

	ch, err := b.Channel(ctx)
	if err != nil {
		return err
	}

	var (
		jobs   = store.NewJobStore(gdb)
		outbox = store.NewOutboxStore(gdb)
		deps   = api.Dependencies{
			Submitter: submit.New(jobs, outbox, q),
			Jobs:      jobs,
			Logs:      store.NewLogStore(gdb),
			Channel:   ch,
			Gateway:   gateway.New(ch, vars.GatewayPingInterval),
		}
		relay = submit.NewRelay(outbox, q, vars.OutboxSchedule, vars.OutboxGrace)
	)

	r.launch("api", func(ctx context.Context) error {
		return api.Start(ctx, deps, vars.Port, vars.ShutdownTimeout)
	})
	r.launch("outbox relay", relay.Run)

	return nil
}

func launchWorker(ctx context.Context, r *roles, b *brokers, gdb *gorm.DB, vars env.Environment) error {
	q, err := b.Queue(ctx, env.RoleWorker)
	if err != nil {
		return err
	}

	ch, err := b.Channel(ctx)
	if err != nil {
		return err
	}

	w := worker.NewWorker(
		q,
		store.NewJobStore(gdb),
		execution.New(vars.ExecutionURL, &http.Client{}),
		logchan.NewProducer(ch),
		worker.Options{
			Timeout:     vars.ExecutionTimeout,
			MaxAttempts: vars.ExecutionMaxAttempts,
			Backoff:     vars.ExecutionBackoff,
		},
	)

	r.launch("worker", w.Run)

	return nil
}

func launchPersister(ctx context.Context, r *roles, b *brokers, gdb *gorm.DB) error {
	ch, err := b.Channel(ctx)
	if err != nil {
		return err
	}

	p := persister.New(ch, store.NewLogStore(gdb), persister.Options{})
	r.launch("persister", p.Run)

	return nil
}

// roles runs each enabled role in its own goroutine.
type roles struct {
	ctx     context.Context
	errs    chan error
	running int
}

func (r *roles) launch(name string, run func(context.Context) error) {
	r.running++
	go func() {
		log.Info("launching role", "role", name)
		r.errs <- errors.Wrap(run(r.ctx), name)
	}()
}

// wait blocks until every role has returned. The first failure cancels
// the others.
func (r *roles) wait(cancel context.CancelFunc) error {
	if r.running == 0 {
		return errors.New("no roles enabled")
	}

	var first error
	for i := 0; i < r.running; i++ {
		if err := <-r.errs; err != nil && first == nil {
			log.Error("role failure", "error", err)
			first = err
			cancel()
		}
	}

	log.Info("trainer stopped")
	return first
}

func dumpOnSignal(ctx context.Context) {
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGUSR1)

	go func() {
		defer signal.Stop(signalChan)
		for {
			select {
			case <-ctx.Done():
				return
			case <-signalChan:
				log.Info("dumping stack traces due to SIGUSR1 signal")
				if profile := pprof.Lookup("goroutine"); profile != nil {
					if err := profile.WriteTo(os.Stdout, 1); err != nil {
						log.Error("write goroutine profile", "error", err)
					}
				}
			}
		}
	}()
}
