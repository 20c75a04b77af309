package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"relaychat/controller"
	"relaychat/llm"
	"relaychat/model"
	"relaychat/platform"
	"relaychat/service"
)

const (
	titleTaskTimeout = 30 * time.Second
	webpageTimeout   = 15 * time.Second
	shutdownTimeout  = 30 * time.Second
)

var (
	rootCmd = &cobra.Command{
		Use:   "relaychat",
		Short: "Chat backend that streams model responses and keeps the chat history.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			//Load the .env file, it is optional
			_ = godotenv.Load(".env")
			if file := viper.GetString("config"); file != "" {
				viper.SetConfigFile(file)
				if err := viper.ReadInConfig(); err != nil {
					return fmt.Errorf("failed to read config %s: %w", file, err)
				}
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}

	tokenCmd = &cobra.Command{
		Use:   "token <user-id>",
		Short: "Print an HS256 access token for local development.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := platform.LoadConfig(viper.GetViper())
			if err != nil {
				return err
			}
			tokens, err := service.NewTokenService(cfg.Auth)
			if err != nil {
				return err
			}
			ttl, _ := cmd.Flags().GetDuration("ttl")
			token, err := tokens.CreateToken(args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
)

func init() {
	platform.SetDefaults(viper.GetViper())

	flags := rootCmd.PersistentFlags()
	flags.String("mode", platform.ModeDev, `mode of server, can be "prod" or "dev"`)
	flags.Int("port", 3004, "port of server")
	flags.String("config", "", "path to a config file")
	flags.String("driver", "mysql", "database driver (mysql, sqlite)")
	flags.String("dsn", "", "database source name, overrides the SQL_* settings")

	for key, flag := range map[string]string{
		"mode":      "mode",
		"port":      "port",
		"config":    "config",
		"db.driver": "driver",
		"db.dsn":    "dsn",
	} {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(err)
		}
	}

	tokenCmd.Flags().Duration("ttl", 7*24*time.Hour, "token lifetime")
	rootCmd.AddCommand(tokenCmd)
}

func serve() error {
	cfg, err := platform.LoadConfig(viper.GetViper())
	if err != nil {
		return err
	}
	logger, err := platform.NewLogger(cfg.Log, "gin")
	if err != nil {
		return err
	}
	logger.Infof("Server starting in %s mode...", cfg.Mode)

	//init database
	db, err := platform.InitDB(cfg.DB, logger)
	if err != nil {
		return err
	}
	if err := model.InstallDB(db); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	tokens, err := service.NewTokenService(cfg.Auth)
	if err != nil {
		return err
	}
	metrics := platform.NewMetrics()
	background := service.NewBackground(logger, titleTaskTimeout)

	chats := service.NewChatService(db, logger, service.ChatServiceOptions{
		Titles:        service.NewLLMTitleGenerator(platform.NewTitleClient(cfg.LLM), cfg.LLM.TitleModel),
		Background:    background,
		Metrics:       metrics,
		TimestampStep: cfg.Chat.TimestampStep,
	})
	tools := llm.NewRegistry(logger, metrics, llm.WeatherTool{}, llm.NewWebpageTool(webpageTimeout))
	provider := llm.NewOpenAIProvider(platform.NewLLMClient(cfg.LLM), cfg.LLM.Model, logger)
	relay := service.NewRelay(chats, provider, tools, logger, metrics, service.RelayConfig{
		System:       cfg.LLM.SystemPrompt,
		MaxSteps:     cfg.LLM.MaxSteps,
		HistoryLimit: cfg.Chat.HistoryLimit,
		Timeout:      cfg.LLM.Timeout,
		ExposeErrors: cfg.IsDev(),
	})

	router := controller.NewRouter(controller.Deps{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics,
		DB:      db,
		Tokens:  tokens,
		Relay:   relay,
		Chats:   chats,
		Posts:   service.NewPostService(db),
	})

	c := cron.New()
	if cfg.Janitor.Schedule != "" {
		janitor := service.NewJanitor(db, logger, cfg.Janitor.EmptyChatTTL)
		if _, err := janitor.Schedule(c, cfg.Janitor.Schedule); err != nil {
			return fmt.Errorf("invalid janitor schedule %q: %w", cfg.Janitor.Schedule, err)
		}
	}
	c.Start()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Infof("Server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("Server shutting down...")
	// running relays keep their connection until the model call and persistence are done
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.LLM.Timeout+shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("server shutdown error, %s", err)
	}
	<-c.Stop().Done()
	if err := background.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("background tasks did not finish, %s", err)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
