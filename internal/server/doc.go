// Package server wires the HTTP surface of statline-hub: a Fiber
// application exposing the dataset catalog, structure and data endpoints,
// plus /-/ diagnostics for cache state. Handlers stay thin — catalog,
// odata and translate packages do the actual work; this layer only parses
// parameters, renders JSON/CSV and tags every request with an ID.
package server
