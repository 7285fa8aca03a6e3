// Package api exposes the REST surface for deploying agents and strategies,
// querying deployment receipts, and operating the governance and emergency
// controls of the factory.
package api
