// Package client is the collaborator-facing OOCSI client.
//
// A Client owns one connection.Manager (the single background goroutine),
// a subscription.Registry, a call.Correlator and a table of local services,
// and wires them together through a dispatch.Dispatcher:
//
//	caller goroutines                       manager goroutine
//	  Subscribe / Publish / Call  ──Send──▶  stream ──▶ Dispatch
//	                                                  ├─▶ services (reply)
//	                                                  ├─▶ pending calls
//	                                                  └─▶ subscriber callbacks
//
// Callbacks run on the manager goroutine and must not block; a blocked
// callback stalls heartbeat replies and every later event. Never call Stop
// and wait on Done from inside a callback.
//
// Basic usage:
//
//	cfg := client.DefaultConfig()
//	cfg.Handle = "sensor_###"
//	c, err := client.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer c.Stop()
//
//	c.Subscribe("room", func(sender, recipient string, fields map[string]any) {
//		fmt.Println(sender, fields)
//	})
//	c.Publish("room", map[string]any{"temp": 21.5})
//
// Variables bind directly to a client:
//
//	temp, err := variable.New[float64](c, "room", "temp")
package client
