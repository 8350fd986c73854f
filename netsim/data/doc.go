// Package data defines the message values moved through the simulated
// network: addresses, transactions, blocks and block requests.
package data
