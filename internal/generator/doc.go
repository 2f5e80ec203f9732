// Package generator produces the content of generated conversation turns.
//
// The chat service hands a Generator a Request describing the room, its
// members and the recent conversation path, and gets back a Turn: the text,
// an optional suggested author, and a Stop flag that ends chained
// generation.
//
// Implementations:
//
//   - ScriptGenerator replays a TOML script (LoadScript), one turn per
//     conversation position. Useful for demos and deterministic tests.
//   - LLMGenerator speaks as the next member in round-robin order through a
//     TextGenerator: OpenAICompat (/chat/completions) or Ollama (/api/chat).
//
// Who authors a turn is decided separately by an AuthorSelector
// (round_robin or generator), so the same generator can run under either
// policy.
package generator
