// Package notibatch provides an embeddable adaptive message batcher.
//
// Messages are accumulated per recipient and handed to a caller-supplied
// deliver function in batches, trading a bounded delay for fewer deliveries.
// Urgent messages skip the queue, failed batches are retried with boosted
// priority, and batching parameters shrink under memory pressure.
//
// # Basic Usage
//
//	b, err := notibatch.New(notibatch.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	if err := b.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
//	b.Enqueue("user-42", notibatch.Message{Kind: "chat", Priority: 1}, deliver)
//
//	// ... run until shutdown signal ...
//
//	if err := b.Shutdown(ctx); err != nil {
//	    log.Printf("shutdown error: %v", err)
//	}
//	b.FlushAll(ctx, flush)
//
// # Delivery
//
// A [DeliverFunc] receives every batch for one recipient. A nil error marks
// the batch delivered; any error requeues its messages with priority + 1
// until [Config.MaxRetries] is exhausted, after which they go to the
// dead-letter sink set with [WithDeadLetterSink].
//
// # Dependency Injection
//
//	b, err := notibatch.New(cfg,
//	    notibatch.WithLogger(customLogger),
//	    notibatch.WithRecorder(recorder),
//	    notibatch.WithMemorySampler(sampler),
//	)
//
// # Lifecycle States
//
// The background loops of a Batcher are in one of five states:
// [StateStopped], [StateStarting], [StateRunning], [StateStopping] or
// [StateCrashed]. Use [Batcher.State] to query the current state and
// [WithEventHandler] to observe transitions.
package notibatch
