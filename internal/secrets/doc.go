// Package secrets detects and redacts credentials in conversation text
// before it is written to an index.
//
// Two engines are available: a regexp rule set tuned for short transcript
// snippets, and the gitleaks default rule pack.
package secrets
