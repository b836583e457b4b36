package storage

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// Engine kinds accepted by Open.
const (
	EngineMemory = "memory"
	EngineBadger = "badger"
	EnginePebble = "pebble"
)

// OpenOptions selects and configures an engine.
type OpenOptions struct {
	Engine     string // memory, badger or pebble
	DataDir    string // ignored by memory; empty means in-memory for badger and pebble
	SyncWrites bool
	Logger     Logger // badger internal logging; nil keeps it quiet
}

// Open creates the engine named by opts.Engine.
func Open(opts OpenOptions) (Engine, error) {
	switch strings.ToLower(opts.Engine) {
	case "", EngineMemory:
		return NewMemoryEngine(), nil
	case EngineBadger:
		bopts := BadgerOptions{DataDir: opts.DataDir, InMemory: opts.DataDir == "", SyncWrites: opts.SyncWrites}
		if opts.Logger != nil {
			bopts.Logger = BadgerLogger(opts.Logger)
		}
		return NewBadgerEngineWithOptions(bopts)
	case EnginePebble:
		return NewPebbleEngineWithOptions(PebbleOptions{DataDir: opts.DataDir, InMemory: opts.DataDir == "", SyncWrites: opts.SyncWrites})
	}
	return nil, errors.Newf("unknown storage engine %q", opts.Engine)
}
