// Package launcher runs the Stem process's long-lived components (the
// Stem loop, the admin HTTP/gRPC surface, the wire listener) side by
// side and waits for all of them to stop.
package launcher

import (
	"context"
	"sync"

	"github.com/stemrun/stemcore/internal/mlog"
)

// App is a long-lived component started by the Launcher. Run must
// return when ctx is cancelled.
type App interface {
	Run(ctx context.Context) error
}

// LauncherOption configures a Launcher.
type LauncherOption func(l *Launcher)

// WithLogger attaches a logger to the launcher.
func WithLogger(logger mlog.Logger) LauncherOption {
	return func(l *Launcher) {
		l.Logger = logger
	}
}

// RunApp registers an app to start when Run is called.
func RunApp(name string, app App) LauncherOption {
	return func(l *Launcher) {
		l.Add(name, app)
	}
}

// Launcher starts and supervises a fixed set of Apps.
type Launcher struct {
	Logger mlog.Logger
	apps   map[string]App
	wg     *sync.WaitGroup
}

// Add registers an app under name.
func (l *Launcher) Add(name string, a App) *Launcher {
	l.apps[name] = a
	return l
}

// Run starts every registered app in its own goroutine and blocks until
// ctx is cancelled and every app has returned.
func (l *Launcher) Run(ctx context.Context) {
	count := len(l.apps)
	l.wg.Add(count)

	l.Logger.Infof("launcher: starting %d app(s)", count)

	for name, app := range l.apps {
		go func(name string, app App) {
			defer l.wg.Done()

			l.Logger.Infof("launcher: app %q starting", name)

			if err := app.Run(ctx); err != nil && ctx.Err() == nil {
				l.Logger.Errorf("launcher: app %q failed: %v", name, err)
			}

			l.Logger.Infof("launcher: app %q finished", name)
		}(name, app)
	}

	<-ctx.Done()
	l.wg.Wait()

	l.Logger.Info("launcher: terminated")
}

// NewLauncher builds a Launcher with a no-op logger unless WithLogger
// overrides it.
func NewLauncher(opts ...LauncherOption) *Launcher {
	l := &Launcher{
		apps: make(map[string]App),
		wg:   new(sync.WaitGroup),
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.Logger == nil {
		l.Logger = &mlog.NoneLogger{}
	}

	return l
}
