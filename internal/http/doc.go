// Package http provides an HTTP client for credentialed blob range reads.
//
// This package handles:
//   - Connection pooling for high parallelism
//   - Range requests for fragment reads
//   - Request signing with the pre-shared account key
//   - Retry with exponential backoff
//
// # Usage
//
//	client, err := http.NewClient(Options{
//	    MaxIdleConnsPerHost: 100,
//	    Timeout:             30 * time.Second,
//	    RetryAttempts:       5,
//	    Credentials:         Credentials{Account: "acct", Key: key},
//	})
//
//	// Download a range
//	resp, err := client.GetRange(ctx, url, startByte, endByte)
//	defer resp.Body.Close()
//
// Every request carries an x-ms-date header and a SharedKey authorization
// header computed as HMAC-SHA256 over (method, path, range, date) with the
// base64-decoded account key.
package http
