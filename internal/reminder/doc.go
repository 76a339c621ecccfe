// Package reminder turns free-text "remind me to ..." messages into scheduled
// tasks and delivers them when due.
//
// Resolution runs in confidence order:
//   - ResolveSimple: regex-only, no external calls
//   - SemanticResolver: a language-model completion, strictly validated
//   - ResolveSimple again, accepting its keyword default
//
// Delivery is polling based: Dispatcher.RunTick scans the store for due,
// unsent tasks and marks each one sent after a successful delivery. The
// guarantee is at-least-once; a crash between delivery and MarkSent
// redelivers on restart.
package reminder
