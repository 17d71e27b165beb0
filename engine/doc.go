// Package engine wires together everything a single jobrunr server
// instance needs: the job registry, extension registry, job filter
// pipeline, worker pool and its executor, the coordinator, and the
// storage-change notifier. It provides the primary application-level
// API for registering handlers and enqueuing work.
//
// The engine package exists to break an import cycle: the root jobrunr
// package defines Server (embedded by everything below it) and cannot
// import the subsystem packages back, since those in turn would need
// to import jobrunr for Config. Engine sits above pool, coordinator,
// and notifier, and below the application layer.
//
// # Building an Engine
//
//	srv, err := jobrunr.New(
//	    jobrunr.WithStore(pgStore),
//	    jobrunr.WithWorkerPoolSize(20),
//	)
//
//	eng, err := engine.Build(srv,
//	    engine.WithExtension(myExtension),
//	    engine.WithMiddleware(middleware.Logging(logger)),
//	    engine.WithBackoff(backoff.NewExponential(time.Second, time.Hour)),
//	)
//
// # Registering and Enqueuing Work
//
//	engine.Register(eng, job.NewDefinition("send-email", sendEmail))
//	engine.Enqueue(ctx, eng, "send-email", EmailInput{To: "user@example.com"})
//	engine.RegisterRecurring(ctx, eng, &recurring.Definition[ReportInput]{
//	    ID: "daily-report", Name: "generate-report", Schedule: "0 9 * * *",
//	})
//
// # Options
//
//   - [WithExtension] — register a lifecycle extension
//   - [WithMiddleware] — add a middleware to the execution chain
//   - [WithBackoff] — set the default retry backoff strategy
//   - [WithDefaultTimeout] — set the execution deadline used when a job
//     carries none of its own
//   - [WithTracerProvider] — set the OpenTelemetry tracer provider
//   - [WithMeterProvider] — set the OpenTelemetry meter provider
package engine
