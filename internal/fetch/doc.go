// Package fetch owns the shared upstream HTTP client and the retry policy
// wrapped around it. The ClientManager hands out a single connection-pooled
// client per runtime context and rebuilds it when the context changes; the
// Fetcher layers bounded retries with exponential backoff and Retry-After
// awareness on top. Higher layers (catalog, odata, translate) never touch
// net/http directly — they go through this package so timeouts, pooling and
// retry behaviour stay consistent across the whole service.
package fetch
