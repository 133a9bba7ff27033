// Package conversation maintains the authoritative transcript of a live,
// turn-based voice conversation and indexes finalized turns in the background.
//
// The package supports:
//   - Recording user and assistant messages as turns
//   - Reconciling incremental speech recognition refinements (continuations)
//   - Finalizing turns and extracting a parsed form of the user utterance
//   - Writing finalized content to an Indexer from a single background worker
//   - Draining pending index work with an explicit barrier
//
// # Architecture
//
// The main components are:
//   - Log: ordered system prompt plus turns, with continuation detection
//   - IndexingLog: Log plus turn finalization and background indexing
//   - Worker: single-consumer FIFO queue with drain barriers
//   - Extractor / Indexer: capabilities supplied by the caller
//
// # Usage
//
// Create an indexing log with an extractor and an indexer:
//
//	l := conversation.NewIndexingLog(
//	    "You are a helpful assistant.",
//	    extractor,
//	    indexer,
//	    logger,
//	    conversation.IndexingConfig{},
//	)
//	defer l.Close(ctx)
//
// Drive it from the voice pipeline:
//
//	l.AppendUserMessage("what's the weather")
//	l.AppendUserMessage("what's the weather in Lisbon")
//	l.FinalizeCurrentUserMessage()
//	_ = l.AppendAssistantMessage("Sunny, 24 degrees.")
//
// Wait for everything enqueued so far to reach the indexer:
//
//	if err := l.Flush(ctx); err != nil {
//	    return err
//	}
//
// # Concurrency
//
// Mutation methods on a Log or IndexingLog must be serialized by the caller.
// Extraction and index writes run only on the worker goroutine, so the
// Indexer sees a single writer and writes arrive in enqueue order.
package conversation
