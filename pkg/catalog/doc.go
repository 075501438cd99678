// Package catalog retrieves the device inventory over the vendor's
// encrypted RPC surface. Aggregation walks owned and shared homes and
// streams devices incrementally through a progress sink so interactive
// frontends can render results as they arrive.
package catalog
