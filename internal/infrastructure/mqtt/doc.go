// Package mqtt provides the gateway's MQTT broker connection.
//
// In mqtt host mode the host server and the gateway talk only through the
// broker: the host publishes its snapshot, log lines and code requests, and
// the gateway publishes replies, console announcements and its own status.
// Topics documents the hierarchy.
//
// Features:
//   - Auto-reconnect with subscription restoration
//   - Retained online/offline status with a Last Will
//   - Panic recovery in message handlers
//
// Usage:
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishString(client.Topics().HostConsole(), "Your code: aB3dE9")
package mqtt
