// Package application provides application initialization and dependency wiring.
// It opens the SQL database and the optional document database, builds the
// user bridge, handlers, router and HTTP server, and releases those resources
// on Close, keeping the main package focused on CLI parsing and orchestration.
package application
