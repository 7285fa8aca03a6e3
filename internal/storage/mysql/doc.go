// Package mysql provides MySQL-backed persistence for authentication data.
// It owns the schema migration runner shared by the embedded SQL files under
// deploy/migrations.
package mysql
