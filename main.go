package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/uptrace/bun"
	"golang.org/x/sync/errgroup"

	"github.com/tanpawarit/chative-restaurant-agent/agent/commit"
	contractx "github.com/tanpawarit/chative-restaurant-agent/agent/contract"
	"github.com/tanpawarit/chative-restaurant-agent/agent/engine"
	"github.com/tanpawarit/chative-restaurant-agent/agent/ledger"
	"github.com/tanpawarit/chative-restaurant-agent/agent/llm"
	nodex "github.com/tanpawarit/chative-restaurant-agent/agent/nodes"
	"github.com/tanpawarit/chative-restaurant-agent/agent/notify"
	"github.com/tanpawarit/chative-restaurant-agent/agent/parser"
	"github.com/tanpawarit/chative-restaurant-agent/agent/prompt"
	"github.com/tanpawarit/chative-restaurant-agent/agent/resolver"
	statex "github.com/tanpawarit/chative-restaurant-agent/agent/state"
	tenantx "github.com/tanpawarit/chative-restaurant-agent/agent/tenant"
	"github.com/tanpawarit/chative-restaurant-agent/agent/transcript"
	configx "github.com/tanpawarit/chative-restaurant-agent/pkg/config"
	logx "github.com/tanpawarit/chative-restaurant-agent/pkg/logger"
	_ "github.com/tanpawarit/chative-restaurant-agent/pkg/logger/autoload"
	qstashx "github.com/tanpawarit/chative-restaurant-agent/pkg/qstash"
	"github.com/tanpawarit/chative-restaurant-agent/server"
)

type AppConfig struct {
	TenantFile    string        `split_words:"true" default:"restaurants.example.yaml"`
	MenuIndex     bool          `split_words:"true" default:"true"`
	NotifyTimeout time.Duration `split_words:"true" default:"5s"`
	CommitTimeout time.Duration `split_words:"true" default:"5s"`

	Storage    ledger.StorageConfig
	Transcript transcript.Config
	Server     server.Config
	Engine     engine.Config
}

var envFile string

var rootCmd = &cobra.Command{
	Use:   "chative",
	Short: "Conversational transaction engine for restaurant orders and bookings",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// autoload ran before flags were parsed; pick up LOG_ values from --env
		if envFile != "" {
			logx.Init(*configx.MustNew[logx.Config]("LOG", configx.WithEnvFile(envFile)))
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create ledger and transcript tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := configx.MustNew[AppConfig]("APP", configx.WithEnvFile(envFile))
		db, err := ledger.OpenDB(app.Storage)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := migrate(cmd.Context(), db); err != nil {
			return err
		}
		log.Info().Str("driver", app.Storage.Driver).Msg("migrations applied")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", "", "path to an env file exported before config is read")
	rootCmd.AddCommand(serveCmd, migrateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func migrate(ctx context.Context, db *bun.DB) error {
	if err := ledger.NewBunLedger(db).EnsureTables(ctx); err != nil {
		return fmt.Errorf("ledger tables: %w", err)
	}
	if err := transcript.NewBunRecorder(db).EnsureTables(ctx); err != nil {
		return fmt.Errorf("transcript tables: %w", err)
	}
	return nil
}

func serve(ctx context.Context) error {
	withEnv := configx.WithEnvFile(envFile)
	app := configx.MustNew[AppConfig]("APP", withEnv)
	llmCfg := configx.MustNew[llm.Config]("LLM", withEnv)
	sessionCfg := configx.MustNew[statex.RegistryConfig]("SESSION", withEnv)
	loaderCfg := configx.MustNew[tenantx.LoaderConfig]("TENANT", withEnv)
	promptCfg := configx.MustNew[prompt.Config]("PROMPT", withEnv)
	redisCfg := configx.MustNew[statex.UpstashRedisConfig]("UPSTASH_REDIS", withEnv)
	qstashCfg := configx.MustNew[qstashx.Config]("QSTASH", withEnv)

	source, err := tenantx.NewFileSource(app.TenantFile)
	if err != nil {
		return err
	}
	source.Watch()

	db, err := ledger.OpenDB(app.Storage)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := migrate(ctx, db); err != nil {
		return err
	}
	book := ledger.NewBunLedger(db)

	var assemblerOpts []prompt.Option
	if app.MenuIndex {
		assemblerOpts = append(assemblerOpts, prompt.WithMenuIndex(prompt.NewMenuIndex(nil)))
	}

	gateway, err := llm.NewGatewayFromConfig(ctx, *llmCfg)
	if err != nil {
		return fmt.Errorf("language model gateway: %w", err)
	}
	res, err := resolver.New()
	if err != nil {
		return err
	}

	var store statex.Store = statex.NewMemoryStore(sessionCfg.RetainTerminal)
	if redisCfg.Enabled() {
		if store, err = statex.NewUpstashRedisStore(*redisCfg); err != nil {
			return fmt.Errorf("snapshot store: %w", err)
		}
	}

	recorders := transcript.Multi{transcript.NewBunRecorder(db)}
	if app.Transcript.Dir != "" {
		fileRec, err := transcript.NewFileRecorder(app.Transcript.Dir)
		if err != nil {
			return err
		}
		recorders = append(recorders, fileRec)
	}
	recorder := transcript.NewAsyncRecorder(recorders, app.Transcript.Buffer, app.Transcript.WriteTimeout)

	var notifier contractx.Notifier = notify.Noop{}
	if qstashCfg.Enabled() {
		notifier = notify.NewQStashNotifier(qstashx.MustNew(*qstashCfg))
	}
	dispatcher := notify.NewDispatcher(notifier, app.NotifyTimeout)

	var eng *engine.Engine
	registry := statex.NewRegistry(store, *sessionCfg, statex.WithEvictionHook(func(ev statex.Eviction) {
		eng.HandleEviction(ev)
	}))
	eng, err = engine.New(registry, nodex.Deps{
		Tenants:   tenantx.NewLoader(source, book, *loaderCfg),
		Assembler: prompt.NewAssembler(*promptCfg, assemblerOpts...),
		Model:     gateway,
		Parser:    parser.MustNew(),
		Resolver:  res,
		Commits:   commit.NewService(registry, book, commit.WithWriteTimeout(app.CommitTimeout)),
		Recorder:  recorder,
		Notifier:  dispatcher,
	}, app.Engine)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		registry.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return server.New(eng, app.Server).Run(gctx)
	})
	err = g.Wait()

	dispatcher.Wait()
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if cerr := recorder.Close(closeCtx); cerr != nil {
		log.Warn().Err(cerr).Int64("dropped", recorder.Dropped()).Msg("transcript flush incomplete")
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
