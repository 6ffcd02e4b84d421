// Package odata is the typed client for the CBS (Statistics Netherlands)
// OData catalog and data APIs, plus the data.overheid.nl CKAN catalog.
// It models the small set of record shapes the upstream returns (catalog
// item, table info, data property, dimension entry) as explicit structs,
// and converts TypedDataSet record listings into Frame values that keep
// the upstream column order intact.
package odata
