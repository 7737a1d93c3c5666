// Package internaldefs holds the metric names shared by the Prometheus and
// OTel exporters so that both publish identical names and bucket bounds.
//
// It performs no I/O and does not import any exporter package.
package internaldefs
