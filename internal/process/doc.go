// Package process supervises a long-running child process.
//
// The gateway uses it to run the host server binary in process mode: every
// line the host writes to stdout or stderr is handed to Config.OnOutput,
// and the process is restarted with a fixed delay when it dies.
//
// Features:
//   - Start/stop with SIGTERM to the process group, then SIGKILL
//   - Automatic restart on failure, bounded by MaxRestartAttempts
//   - Line-oriented capture of stdout/stderr
//   - Context-based cancellation
//
// Example usage:
//
//	mgr := process.NewManager(process.Config{
//	    Name:     "host",
//	    Binary:   "/opt/server/run.sh",
//	    OnOutput: func(s process.Stream, line string) { ... },
//	})
//	if err := mgr.Start(ctx); err != nil {
//	    return err
//	}
//	defer mgr.Stop()
package process
