// Package fakes provides in-memory test doubles for the secret store SDKs
// and for remote.Backend.
//
// Fakes are hand-written, version-counting stores with per-key error
// injection and Func overrides for precise control over test behavior.
//
// Usage:
//
//	fake := fakes.NewFakeGCPSecretManagerClient()
//	fake.AddSecretString("my-project", "db-password", "hunter2")
//	backend, _ := remote.NewGCPSecretManager(ctx, "gcp-store", cfg, nil, remote.WithGCPClient(fake))
package fakes
