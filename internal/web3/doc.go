// Package web3 houses blockchain connectivity utilities for the deployment
// pipeline: the chain client abstraction used to submit agent and strategy
// contract deployments, and multi-workchain configuration helpers. The core
// layer treats transaction hashes and block sequence numbers as opaque
// identifiers; signing happens outside this process.
package web3
