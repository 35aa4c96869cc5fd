package main

import (
	"github.com/weave-sync/weave/internal/config"
	"github.com/weave-sync/weave/internal/store"
	"github.com/weave-sync/weave/internal/store/sqlitestore"
)

func openStore(docID string) (store.LocalStore, error) {
	opts, err := config.Load(nil, configPath)
	if err != nil {
		return nil, err
	}
	return sqlitestore.Open(opts.StorePath, docID, nil, nil)
}
