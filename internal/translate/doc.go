// Package translate turns coded CBS dimension values into human-readable
// labels. DimensionCache holds per (dataset, dimension) code-to-label
// mappings behind a TTL and a single-flight guard so concurrent translations
// of the same dataset never trigger duplicate upstream fetches. Translator
// applies those mappings to Frame columns, auto-detecting which columns are
// dimensions from the dataset's service document.
package translate
