// Package config provides centralized configuration management for the
// AgentVault runtime: a JSON configuration file with sane defaults for the
// API server, persistence backends, the payout settlement queue, workchain
// access, and the factory governance parameters.
package config
