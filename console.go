package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/jarimakinen/gdrivesync/internal/checksum"
	"github.com/jarimakinen/gdrivesync/internal/clouddrive"
	"github.com/jarimakinen/gdrivesync/internal/config"
	"github.com/jarimakinen/gdrivesync/internal/credentials"
	"github.com/jarimakinen/gdrivesync/internal/engine"
)

// driveScope is the OAuth2 scope the engine needs for full read/write
// access to the user's owned hierarchy, including shortcut targets owned
// by the authenticated principal.
const driveScope = "https://www.googleapis.com/auth/drive"

func newConsoleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Run the synchronizer in the foreground until Enter is pressed",
		Long: `Starts the cloud poller, local observer, change processor, and
startup reconciler, then blocks until Enter is pressed on stdin or the
process receives SIGINT/SIGTERM.`,
		RunE: runConsole,
	}
}

func runConsole(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())

	eng, pidCleanup, err := buildEngine(cmd.Context(), cc)
	if err != nil {
		return err
	}
	defer pidCleanup()

	ctx, cancel := context.WithCancel(shutdownContext(cmd.Context(), cc.Logger))
	defer cancel()

	hupCh := sighupChannel()
	defer signal.Stop(hupCh)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hupCh:
				cc.Logger.Info("SIGHUP received; diagnostics continue on stderr")
			}
		}
	}()

	enterCh := make(chan struct{})

	go func() {
		reader := bufio.NewReader(os.Stdin)
		_, _, _ = reader.ReadLine()
		close(enterCh)
	}()

	runErrCh := make(chan error, 1)

	go func() { runErrCh <- eng.Run(ctx) }()

	select {
	case <-enterCh:
		cc.Logger.Info("Enter pressed, stopping")
	case <-ctx.Done():
		cc.Logger.Info("shutdown signal received, stopping")
	}

	// Cancel first so the poller and observer unblock, then wait for the
	// processor to drain synchronously.
	cancel()
	eng.Stop()

	return <-runErrCh
}

// buildEngine wires every external collaborator into an *engine.Engine:
// the OAuth2 token source (via internal/credentials), the Drive API
// service, the checksum primitive, and a process-singleton PID file
// guarding the working directory against a second concurrent instance.
func buildEngine(ctx context.Context, cc *CLIContext) (*engine.Engine, func(), error) {
	if cc.Cfg.Sync.SyncRoot == "" {
		return nil, nil, newUsageError(fmt.Errorf("sync.sync_root is not configured"))
	}

	workDir := cc.Cfg.Sync.WorkingDir
	if workDir == "" {
		workDir = config.DefaultWorkingDir()
	}

	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, nil, fmt.Errorf("creating working directory: %w", err)
	}

	pidCleanup, err := writePIDFile(filepath.Join(workDir, "gdrivesync.pid"))
	if err != nil {
		return nil, nil, err
	}

	svc, err := buildCloudService(ctx, cc)
	if err != nil {
		pidCleanup()

		return nil, nil, err
	}

	eng, err := engine.NewEngine(ctx, engine.Params{
		WorkDir:            workDir,
		SyncRoot:           cc.Cfg.Sync.SyncRoot,
		DownstreamPrefix:   cc.Cfg.Sync.DownstreamOnlyPrefix,
		CoalesceWindow:     cc.Cfg.Sync.CoalesceWindow.Std(),
		RecentWindow:       cc.Cfg.Sync.RecentChangesWindow.Std(),
		CloudPollInterval:  cc.Cfg.Sync.CloudPollInterval.Std(),
		SafetyScanInterval: cc.Cfg.Sync.SafetyScanInterval.Std(),
		RestartBackoff:     cc.Cfg.Sync.RestartBackoff.Std(),
		Hasher:             checksum.NewSHA256(),
		CloudService:       svc,
		Logger:             cc.Logger,
	})
	if err != nil {
		pidCleanup()

		return nil, nil, err
	}

	return eng, pidCleanup, nil
}

// buildCloudService resolves an authenticated Drive API client. The
// interactive consent exchange is stubbed as an error, since a
// non-interactive daemon cannot perform the OAuth redirect dance itself —
// a deployer runs an interactive login step first to populate
// google_drive_credentials/.
func buildCloudService(ctx context.Context, cc *CLIContext) (clouddrive.Service, error) {
	credsDir := config.DefaultCredentialsDir()

	secretPath := filepath.Join(filepath.Dir(credsDir), credentials.ClientSecretFileName)

	oauthCfg, err := credentials.LoadClientSecret(secretPath, []string{driveScope})
	if err != nil {
		return nil, fmt.Errorf("loading %s (run interactive login first): %w", credentials.ClientSecretFileName, err)
	}

	ts, err := credentials.TokenSource(oauthCfg, credsDir, noInteractiveConsent)
	if err != nil {
		return nil, err
	}

	httpClient := oauth2.NewClient(ctx, ts)

	drv, err := drive.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("constructing drive service: %w", err)
	}

	cc.Logger.Debug("authenticated Drive client constructed")

	return clouddrive.NewAdapter(drv), nil
}

// noInteractiveConsent is the default credentials.ConsentFunc: the daemon
// has no terminal to drive an OAuth redirect from, so a missing cached
// token is a hard configuration error.
func noInteractiveConsent(*oauth2.Config) (*oauth2.Token, error) {
	return nil, fmt.Errorf("no cached token and no interactive consent flow wired in this build")
}

// usageError marks an error that should exit with code 2.
type usageError struct{ err error }

func newUsageError(err error) error { return &usageError{err: err} }
func (u *usageError) Error() string { return u.err.Error() }
func (u *usageError) Unwrap() error { return u.err }

// unsupportedModeError marks an error that should exit with code 3.
type unsupportedModeError struct{ err error }

func newUnsupportedModeError(err error) error { return &unsupportedModeError{err: err} }
func (u *unsupportedModeError) Error() string { return u.err.Error() }
func (u *unsupportedModeError) Unwrap() error { return u.err }
