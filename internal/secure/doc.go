// Package secure keeps secret values out of plain process memory.
//
// Values are sealed in memguard enclaves (XSalsa20Poly1305, mlocked where the
// platform allows) as soon as they are generated or entered, and are only
// decrypted inside Value.Use while a backend call is being made:
//
//	v := secure.FromString(password)
//	defer v.Destroy()
//	err := v.Use(func(b []byte) error {
//	    _, err := client.Upsert(ctx, key, b)
//	    return err
//	})
//
// Call memguard.Purge (or secure.Purge) before the process exits.
//
// This does not protect against an attacker with access to the running
// process, or against hardware-level attacks.
package secure

import "github.com/awnumar/memguard"

// Purge wipes all sealed values and locked buffers
func Purge() {
	memguard.Purge()
}

// CatchInterrupt purges memory when the process receives an interrupt
func CatchInterrupt() {
	memguard.CatchInterrupt()
}
