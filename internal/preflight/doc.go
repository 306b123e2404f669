// Package preflight checks that a recall deployment can run before it is
// put to work: the data directory has room and is writable, the store
// answers, the embedder returns vectors of the configured size, the
// reasoning model responds, and any local Ollama models are pulled.
//
//	checker := preflight.New(preflight.Dependencies{Embedder: e, Reasoner: r, Store: s})
//	results := checker.RunAll(ctx, dataDir)
//	if checker.HasCriticalFailures(results) {
//	    // refuse to start
//	}
package preflight
