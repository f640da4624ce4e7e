// Package bootstrap provides application initialization and lifecycle management.
// It wires configuration, storage, narrative providers, the correlation engine
// and the HTTP API into a single App.
//
// Usage:
//
//	app, err := bootstrap.NewApp(ctx)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := app.Start(ctx); err != nil {
//	    app.Shutdown()
//	    log.Fatal(err)
//	}
//
//	// Wait for shutdown signal
//	app.WaitForShutdown()
//	app.Shutdown()
package bootstrap
