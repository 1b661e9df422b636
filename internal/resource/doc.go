// Package resource limits what backup and restore transfers may consume.
//
// A Controller combines three limits:
//
//   - Transfers: a weighted semaphore bounding concurrent segment uploads or downloads
//   - Buffers: a byte budget for segment data held in memory while it is encoded
//   - IO: a token bucket capping bytes per second
//
// Typical use inside a transfer worker:
//
//	if err := rc.AcquireTransfer(ctx); err != nil {
//	    return err
//	}
//	defer rc.ReleaseTransfer()
//
//	reserved, err := rc.AcquireBuffer(ctx, size)
//	if err != nil {
//	    return err
//	}
//	defer rc.ReleaseBuffer(reserved)
//
//	r := resource.NewRateLimitedReader(ctx, src, rc)
//
// All methods are safe for concurrent use, and every method on a nil
// *Controller is a no-op.
package resource
