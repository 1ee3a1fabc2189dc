// Package web3 houses blockchain connectivity utilities, including RPC
// clients and multi-chain configuration helpers. It lets the transaction
// pipeline broadcast pre-signed payloads to supported networks such as
// Ethereum, BSC, and Polygon, and query lightweight chain metadata like
// gas prices and block heights.
package web3
