// Package observability wires OpenTelemetry tracing and metrics for a
// connkit process.
//
//	tp, err := observability.InitTracer(ctx, observability.DefaultTracerConfig("connkitd"))
//	defer tp.Shutdown(ctx)
//
//	mp, err := observability.InitMeter(ctx, observability.DefaultMeterConfig("connkitd"))
//	defer mp.Shutdown(ctx)
//
//	inst, err := observability.NewInstruments(observability.Meter("connkit"))
//	inst.RecordTransition(ctx, "connecting", "open", 0)
package observability
