// Package extraction turns the latest user utterance of a conversation into
// the parsed form that gets indexed.
//
// Providers:
//   - passthrough: the utterance, trimmed
//   - heuristic: offline clean-up of speech recognition output
//   - openai: a chat completion that restates the utterance in context
//
// All providers implement conversation.Extractor and are built with New.
package extraction
