package api

import (
	"io"
	"log/slog"

	"github.com/tinyrange/ffi/internal/abi"
	"github.com/tinyrange/ffi/internal/arena"
	"github.com/tinyrange/ffi/internal/native"
)

// engineConfig holds parsed engine options.
type engineConfig struct {
	arena      arena.Config
	convention abi.Convention
	logger     *slog.Logger
	invoker    native.Invoker

	trampolines native.Trampolines

	// Debug dump of argument and return memory, nil when disabled.
	dump io.Writer
}

// defaultEngineConfig returns a config with default values.
func defaultEngineConfig() engineConfig {
	return engineConfig{
		arena: arena.Config{
			StackSize: arena.DefaultStackSize,
			Reserve:   arena.DefaultReserve,
		},
	}
}

// parseEngineOptions extracts configuration from Option slice.
func parseEngineOptions(opts []Option) engineConfig {
	cfg := defaultEngineConfig()

	for _, opt := range opts {
		switch o := opt.(type) {
		case interface{ StackSize() int }:
			if n := o.StackSize(); n > 0 {
				cfg.arena.StackSize = n
			}
		case interface{ Reserve() int }:
			if n := o.Reserve(); n > 0 {
				cfg.arena.Reserve = n
			}
		case interface{ CallingConvention() abi.Convention }:
			cfg.convention = o.CallingConvention()
		case interface{ Logger() *slog.Logger }:
			cfg.logger = o.Logger()
		case interface{ Invoker() native.Invoker }:
			cfg.invoker = o.Invoker()
		case interface{ Trampolines() native.Trampolines }:
			cfg.trampolines = o.Trampolines()
		case interface{ DebugDump() io.Writer }:
			cfg.dump = o.DebugDump()
		}
	}

	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if cfg.invoker == nil {
		cfg.invoker = native.NewInvoker()
	}
	if cfg.trampolines == nil {
		cfg.trampolines = native.NewTrampolines()
	}
	return cfg
}

// funcConfig holds parsed function options.
type funcConfig struct {
	// realign floors the alignment of every member and element the call
	// lays out; 0 keeps natural alignment.
	realign int
}

func parseFuncOptions(opts []Option) funcConfig {
	var cfg funcConfig
	for _, opt := range opts {
		switch o := opt.(type) {
		case interface{ Realign() int }:
			cfg.realign = o.Realign()
		}
	}
	return cfg
}

type realignOption int

func (realignOption) IsOption()      {}
func (o realignOption) Realign() int { return int(o) }
