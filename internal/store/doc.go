// Package store defines the transactional client interface the load
// generator drives, together with the store's error codes and the
// error-driven backoff used to rebuild a failed transaction.
//
// Adapters register themselves by name at init time and are opened from an
// explicit AdapterConfig:
//
//	client, err := store.Open(ctx, store.AdapterConfig{Name: "redis", Addr: "127.0.0.1:6379"})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	tx := client.CreateTransaction()
//	tx.Set([]byte("k"), []byte("v"))
//	if err := tx.Commit().Wait(ctx); err != nil {
//	    err = tx.OnError(err).Wait(ctx) // resets tx after a backoff, or fails
//	}
package store
