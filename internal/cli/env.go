package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/crmorbit/internal/config"
	"github.com/roach88/crmorbit/internal/engine"
	"github.com/roach88/crmorbit/internal/event"
	"github.com/roach88/crmorbit/internal/logging"
	"github.com/roach88/crmorbit/internal/reducer"
	"github.com/roach88/crmorbit/internal/store"
)

// env is the resolved runtime of one command invocation.
type env struct {
	cfg    config.Config
	logger *slog.Logger
	out    *OutputFormatter
}

// setup loads the config, applies flag overrides and builds the logger.
func (o *RootOptions) setup(cmd *cobra.Command) (*env, error) {
	cfg, err := config.Load(o.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	override(&cfg.Database, o.Database)
	override(&cfg.DeviceID, o.DeviceID)
	override(&cfg.DeviceName, o.DeviceName)
	override(&cfg.LogLevel, o.LogLevel)
	override(&cfg.LogFormat, o.LogFormat)

	logger, err := logging.New(logging.Options{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Writer: cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid logging flags", err)
	}

	return &env{
		cfg:    cfg,
		logger: logger,
		out: &OutputFormatter{
			Format:    o.Format,
			Writer:    cmd.OutOrStdout(),
			ErrWriter: cmd.ErrOrStderr(),
			Verbose:   o.Verbose,
		},
	}, nil
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func (e *env) dispatcher() *reducer.Dispatcher {
	if e.cfg.LegacyDurationDefault {
		return reducer.New(reducer.WithLegacyDurationDefault())
	}
	return reducer.New()
}

// openStore opens the configured database.
func (e *env) openStore() (*store.Store, error) {
	st, err := store.Open(e.cfg.Database)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// openEngine opens the database, settles the device id and replays the
// log. Closing the engine closes the store.
func (e *env) openEngine(ctx context.Context, metrics engine.Metrics) (*engine.Engine, error) {
	st, err := e.openStore()
	if err != nil {
		return nil, err
	}

	deviceID, err := st.EnsureDeviceID(ctx, e.cfg.DeviceID, event.NewDeviceID)
	if err == nil {
		err = st.SetMeta(ctx, store.MetaDeviceName, e.cfg.DeviceName)
	}
	if err != nil {
		return nil, errors.Join(WrapExitError(ExitCommandError, "failed to settle device id", err), st.Close())
	}
	e.cfg.DeviceID = deviceID

	opts := []engine.Option{
		engine.WithDeviceID(deviceID),
		engine.WithDispatcher(e.dispatcher()),
		engine.WithLogger(e.logger),
	}
	if metrics != nil {
		opts = append(opts, engine.WithMetrics(metrics))
	}
	eng, err := engine.Open(ctx, st, opts...)
	if err != nil {
		return nil, errors.Join(WrapExitError(ExitCommandError, "failed to open engine", err), st.Close())
	}
	return eng, nil
}

// rejected reports a reducer error through the formatter and returns the
// matching exit error.
func (e *env) rejected(err error) error {
	var rerr *reducer.Error
	if !errors.As(err, &rerr) {
		return err
	}
	details := map[string]any{}
	if rerr.EventID != "" {
		details["eventId"] = rerr.EventID
	}
	if rerr.Field != "" {
		details["field"] = rerr.Field
	}
	if rerr.Ref != "" {
		details["ref"] = rerr.Ref
	}
	if len(rerr.Details) > 0 {
		details["blocking"] = rerr.Details
	}
	if outErr := e.out.Error(string(rerr.Code), rerr.Message, details); outErr != nil {
		return outErr
	}
	return WrapExitError(ExitFailure, fmt.Sprintf("event rejected (%s)", rerr.Code), err)
}

// settleDeviceID resolves the device id without replaying the log.
func (e *env) settleDeviceID(ctx context.Context) error {
	st, err := e.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	id, err := st.EnsureDeviceID(ctx, e.cfg.DeviceID, event.NewDeviceID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to settle device id", err)
	}
	e.cfg.DeviceID = id
	return nil
}
