// Package secure keeps credential material out of ordinary heap memory.
//
// Both secrets that pass through a rotation (the current one resolved from a
// secret store and the freshly generated one) live in memguard enclaves:
// encrypted at rest with XSalsa20Poly1305 and decrypted into mlocked, guard
// paged buffers only for the instant a keystroke is sent to the browser.
//
//	buf, err := secure.NewBufferFromString(value)
//	if err != nil {
//	    return err
//	}
//	defer buf.Destroy()
//
//	plain, err := buf.Reveal()
//
// Call memguard.Purge() from main on exit to wipe every remaining enclave key.
package secure
