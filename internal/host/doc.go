// Package host connects the gateway to the process whose state it exposes.
//
// Three adapters are provided:
//   - Local: the gateway itself is the host; events come from Emit.
//   - Process: a supervised host binary; its output lines become events.
//   - MQTT: a host publishing snapshots, log lines and code requests to a
//     broker under the configured topic prefix.
//
// Every adapter pushes Events into a Sink (the Broadcast Hub). Wrap the
// sink with Filtered to drop levels below the configured threshold:
//
//	adapter := host.NewLocal(version, logger)
//	if err := adapter.Start(ctx, host.Filtered(hub, cfg.Host.EventThreshold)); err != nil {
//	    return err
//	}
//
// Level names follow the host's log levels. Rank orders them:
// VerboseDebug < Debug < Notification (and its peers) < Warning < Error < Fatal.
package host
