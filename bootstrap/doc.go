// Package bootstrap assembles a connkit process from one Config.
//
// New builds the client registry with the configured Redis and Postgres
// factories, the module resolver (catalog, CDN and mirror tiers), the
// websocket connection manager and the recovery coordinator, and wires them:
//
//   - transport errors and exhausted reconnect budgets are observed,
//   - an Open connection marks the transport scope recovered,
//   - the transport remedy reconnects, the module remedy bypasses the
//     primary tier and the client remedy rebuilds the failed client,
//   - the broad remedy resets every client and reconnects.
//
// Run starts components in order, serves the status API when enabled,
// waits for SIGINT or SIGTERM and stops components in reverse order.
//
//	cfg, err := bootstrap.Load("connkitd")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	app, err := bootstrap.New(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := app.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
package bootstrap
