package main

import (
	"context"
	"fmt"

	"github.com/spf13/viper"

	"github.com/maruel/novelist/internal/backup"
	"github.com/maruel/novelist/internal/config"
	"github.com/maruel/novelist/internal/history"
	"github.com/maruel/novelist/internal/store"
	"github.com/maruel/novelist/internal/userdb"
)

// app holds the services shared by the commands.
type app struct {
	paths   config.Paths
	cfg     *config.ServerConfig
	users   *userdb.DB
	history *history.Repo
	store   *store.Store
	backups *backup.Archiver
}

func openApp(ctx context.Context, v *viper.Viper) (*app, error) {
	a := &app{paths: config.NewPaths(v.GetString(keyDataDir))}
	if err := a.paths.Create(); err != nil {
		return nil, err
	}
	var err error
	if a.cfg, err = config.Load(a.paths.Root); err != nil {
		return nil, err
	}
	if a.users, err = userdb.Open(ctx, a.paths.DB); err != nil {
		return nil, err
	}
	if err := a.users.EnsureDefaultUser(ctx); err != nil {
		_ = a.users.Close()
		return nil, err
	}
	var rec store.Recorder
	if v.GetBool(keyHistory) {
		if a.history, err = history.Open(a.paths.Novels, a.cfg.Author.Name, a.cfg.Author.Email); err != nil {
			_ = a.users.Close()
			return nil, err
		}
		rec = a.history
	}
	local, err := store.NewLocalStore(a.paths.Novels, rec)
	if err != nil {
		_ = a.users.Close()
		return nil, err
	}
	a.store = &store.Store{
		Local:  local,
		Remote: store.NewRemoteStore(a.users, v.GetDuration(keyRemoteTimeout)),
	}
	a.backups, err = backup.New(backup.Options{
		NovelsDir:  a.paths.Novels,
		BackupsDir: a.paths.Backups,
		TempDir:    a.paths.Temp,
		DBPath:     a.paths.DB,
		Snapshot:   a.users.Snapshot,
		RestoreDB:  a.users.Replace,
	})
	if err != nil {
		_ = a.users.Close()
		return nil, fmt.Errorf("failed to initialize backups: %w", err)
	}
	return a, nil
}

func (a *app) Close() error {
	return a.users.Close()
}
