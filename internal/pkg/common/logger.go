package common

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/samber/do/v2"
)

// ErrConfiguration marks startup configuration that cannot be served with.
var ErrConfiguration = errors.New("invalid configuration")

func NewLogger(i do.Injector) (zerolog.Logger, error) {
	component := do.MustInvokeNamed[string](i, "component")
	level := do.MustInvokeNamed[string](i, "log-level")

	zerolog.DurationFieldUnit = time.Millisecond

	return BuildLogger(os.Stdout, component, level)
}

// BuildLogger leaves zerolog's package globals alone, so it is safe to call
// from concurrent tests.
func BuildLogger(w io.Writer, component, level string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("%w: log level %q: %w", ErrConfiguration, level, err)
	}

	return zerolog.New(w).With().
		Timestamp().
		Str("component", component).
		Logger().
		Level(lvl), nil
}

func NewRegistry(_ do.Injector) (*prometheus.Registry, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	return registry, nil
}
