package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/term"

	"github.com/colthorp/bsky-cli-go/internal/api"
	"github.com/colthorp/bsky-cli-go/internal/cache"
	"github.com/colthorp/bsky-cli-go/internal/config"
	"github.com/colthorp/bsky-cli-go/internal/core"
	"github.com/colthorp/bsky-cli-go/internal/output"
	"github.com/colthorp/bsky-cli-go/internal/ratelimit"
)

// App carries the state shared by all commands of one invocation.
type App struct {
	v *viper.Viper

	in     io.Reader
	out    io.Writer
	errOut io.Writer

	// Global flags
	profile    string
	noThrottle bool
	verbose    bool
	quiet      bool
	raw        bool

	format  output.Format
	limiter ratelimit.Limiter

	// NewTransport builds the XRPC transport for a PDS host.
	NewTransport func(host string, opts ...api.Option) api.Transport
	// Sessions caches sessions between runs.
	Sessions *cache.Manager
	// IsTerminal and ReadPassword drive the login prompt.
	IsTerminal   func() bool
	ReadPassword func() (string, error)
}

// NewApp returns an App wired to the real terminal, filesystem and network.
func NewApp() *App {
	return &App{
		v:      viper.New(),
		in:     os.Stdin,
		out:    os.Stdout,
		errOut: os.Stderr,
		NewTransport: func(host string, opts ...api.Option) api.Transport {
			return api.NewClient(host, opts...)
		},
		IsTerminal: func() bool {
			return term.IsTerminal(int(os.Stdin.Fd()))
		},
		ReadPassword: func() (string, error) {
			data, err := term.ReadPassword(int(os.Stdin.Fd()))
			return string(data), err
		},
	}
}

// setup runs before every command: logging, environment and output format.
func (a *App) setup(cmd *cobra.Command) error {
	core.SetupLogging(a.errOut, a.verbose, a.quiet)

	a.v.SetEnvPrefix(core.EnvPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	a.v.AutomaticEnv()
	_ = a.v.BindEnv("profile", core.EnvProfile)
	_ = a.v.BindEnv("pds", core.EnvPDS)

	if a.raw {
		a.format = output.JSON
	} else {
		format, err := output.ParseFormat(a.v.GetString("output"))
		if err != nil {
			return err
		}
		a.format = format
	}

	if a.Sessions == nil {
		a.Sessions = cache.NewManager(nil)
	}
	return nil
}

func (a *App) store() (*config.Store, error) {
	path, err := core.ExpandPath(a.v.GetString("config"))
	if err != nil {
		return nil, err
	}
	return config.NewStore(path), nil
}

func (a *App) loadConfig() (*config.Store, *config.Config, error) {
	store, err := a.store()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := store.Load()
	if err != nil {
		return nil, nil, err
	}
	return store, cfg, nil
}

func (a *App) printer() *output.Printer {
	colored := false
	if f, ok := a.out.(*os.File); ok && f == os.Stdout {
		colored = !color.NoColor
	}
	return output.NewPrinter(a.out, a.format, colored)
}

func (a *App) rateLimiter() ratelimit.Limiter {
	if a.limiter == nil {
		cfg := ratelimit.ConfigFromEnv(a.v)
		cfg.Disabled = a.noThrottle
		a.limiter = ratelimit.New(cfg)
	}
	return a.limiter
}

// newClient builds an API client for a profile. Renewed sessions are written
// to the session cache; a rejected refresh token falls back to a new login.
// extra options are applied after the defaults.
func (a *App) newClient(name string, prof config.Profile, extra ...api.Option) *api.BlueskyAPI {
	host := prof.PDS
	if host == "" {
		host = a.v.GetString("pds")
	}

	// The reauth fallback needs the client the transport is built for.
	var client *api.BlueskyAPI
	opts := []api.Option{
		api.WithLimiter(a.rateLimiter()),
		api.WithSessionCallback(a.Sessions.Saver(name, prof)),
		api.WithReauth(func(ctx context.Context) (*api.Session, error) {
			return a.Sessions.Reauth(name, prof, client)(ctx)
		}),
	}
	transport := a.NewTransport(host, append(opts, extra...)...)
	client = api.NewBlueskyAPI(transport)
	return client
}

// connect resolves the profile for this invocation and authenticates.
func (a *App) connect(ctx context.Context, extra ...api.Option) (*api.BlueskyAPI, string, error) {
	_, cfg, err := a.loadConfig()
	if err != nil {
		return nil, "", err
	}
	name, prof, err := cfg.Resolve(a.profile, a.v.GetString("profile"))
	if err != nil {
		if errors.Is(err, config.ErrNoProfile) {
			return nil, "", fmt.Errorf("%w; run `bsky login --handle <handle>` first", err)
		}
		return nil, "", err
	}

	client := a.newClient(name, prof, extra...)
	if _, err := a.Sessions.Authenticate(ctx, name, prof, client); err != nil {
		return nil, "", err
	}
	return client, name, nil
}
