// Package app wires configuration, storage, the engine and the command
// dispatcher together for the CLI and the server.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"deskline/internal/config"
	"deskline/internal/db"
	"deskline/internal/dispatch"
	"deskline/internal/domain"
	"deskline/internal/engine"
	"deskline/internal/llm"
	"deskline/internal/migrate"
	"deskline/internal/repo"
)

type App struct {
	Config  *config.Config
	DB      *sql.DB
	Dialect db.Dialect
	Engine  engine.Engine
	Logger  *zap.Logger
}

// Open connects to the configured database, applies pending migrations and
// builds the engine.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, dialect, err := db.Open(ctx, db.Config{
		Driver:       db.Dialect(cfg.Database.Driver),
		Workspace:    cfg.Database.Workspace,
		URL:          cfg.Database.URL,
		MaxOpenConns: cfg.Database.MaxOpenConns,
	})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn, dialect); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	eng := engine.New(conn, dialect, cfg)
	eng.Logger = logger.Named("engine")
	logger.Debug("database ready", zap.String("dialect", string(dialect)))
	return &App{Config: cfg, DB: conn, Dialect: dialect, Engine: eng, Logger: logger}, nil
}

func (a *App) Close() error {
	if a == nil || a.DB == nil {
		return nil
	}
	return a.DB.Close()
}

// Dispatcher builds the command dispatcher on the configured model backend.
func (a *App) Dispatcher(ctx context.Context) (dispatch.Dispatcher, error) {
	model, err := llm.New(ctx, a.Config.Model)
	if err != nil {
		return dispatch.Dispatcher{}, err
	}
	return a.DispatcherWith(model), nil
}

// DispatcherWith builds the dispatcher around an existing model.
func (a *App) DispatcherWith(model llm.Model) dispatch.Dispatcher {
	prompt := strings.TrimSpace(a.Config.Model.SystemPrompt)
	if prompt == "" {
		prompt = dispatch.DefaultSystemPrompt
	}
	return dispatch.Dispatcher{
		Vocabulary:   a.Engine.Repo,
		Model:        model,
		Operators:    a.Engine.Repo,
		SystemPrompt: prompt,
		Logger:       a.Logger.Named("dispatch"),
	}
}

// EnsureAdmin returns the first admin, creating one with the given identity
// when the directory has none.
func EnsureAdmin(ctx context.Context, e engine.Engine, name, email string) (domain.User, bool, error) {
	admins, err := e.ListUsers(ctx, repo.UserFilters{Role: domain.RoleAdmin})
	if err != nil {
		return domain.User{}, false, err
	}
	if len(admins) > 0 {
		return admins[0], false, nil
	}
	if strings.TrimSpace(name) == "" {
		name = "Administrator"
	}
	if strings.TrimSpace(email) == "" {
		return domain.User{}, false, errors.New("admin email required")
	}
	u, err := e.CreateUser(ctx, engine.UserCreateOptions{Name: name, Email: email, Role: domain.RoleAdmin})
	if err != nil {
		return domain.User{}, false, fmt.Errorf("seed admin: %w", err)
	}
	return u, true, nil
}
