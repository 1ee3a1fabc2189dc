// Package api exposes the HTTP tool surface. Each tool is invoked via
// POST /api/v1/tools/{name} with a JSON argument object, and responses use a
// uniform success/error envelope. The x402 payment-required outcome is the
// only exception: it maps to HTTP 402 carrying the bare invoice object.
package api
