// Package types defines the canonical disc records, bags, gap reports,
// configuration, and standard error types shared by every flightbag
// component. The normalization layer is the only producer of DiscRecord
// values; everything downstream reads them.
package types
