// Package services is the intent boundary of the client: the operations
// the REPL and the dashboard API call. Services forward intents to the
// lifecycle machine and render cached state as view models; they never
// mutate the cache themselves.
package services
